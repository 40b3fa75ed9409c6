// Package sheets exports a computed month to a Google spreadsheet, one tab
// per user and financial month.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"burnrate/internal/core"
	"burnrate/internal/log"
)

type Config struct {
	SpreadsheetID      string
	ServiceAccountJSON string
	ServiceAccountFile string
	Location           *time.Location
}

type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	loc           *time.Location
	logger        *log.Logger
}

// New builds an exporter authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Exporter, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClient()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SpreadsheetID, cfg.Location, logger), nil
}

// NewWithService wraps an existing service, for tests and custom endpoints.
func NewWithService(svc *gsheet.Service, spreadsheetID string, loc *time.Location, logger *log.Logger) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Exporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		loc:           loc,
		logger:        logger.WithComponent(log.ComponentExport),
	}
}

func credentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.ServiceAccountJSON) != "":
		return []byte(cfg.ServiceAccountJSON), nil
	case cfg.ServiceAccountFile != "":
		b, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials")
	}
}

func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   5,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: 60 * time.Second,
	}
}

// ExportMonth replaces the month's tab with the day plan and returns the
// written A1 range.
func (e *Exporter) ExportMonth(ctx context.Context, userID string, mb core.MonthBudget) (string, error) {
	if e.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	title := TabTitle(userID, mb.MonthStart.In(e.loc))

	if err := e.ensureTab(ctx, title); err != nil {
		return "", err
	}

	rows := MonthRows(mb, e.loc)
	quoted := quote(title)
	if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, quoted, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear %s: %w", title, err)
	}

	ref := fmt.Sprintf("%s!A1:F%d", quoted, len(rows))
	vr := &gsheet.ValueRange{Values: rows}
	if _, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, ref, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("write %s: %w", title, err)
	}

	e.logger.InfoContext(ctx, "month written to spreadsheet",
		log.FieldUserID, userID,
		"range", ref,
		"rows", len(rows))
	return ref, nil
}

func (e *Exporter) ensureTab(ctx context.Context, title string) error {
	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return nil
		}
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	if _, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add tab %s: %w", title, err)
	}
	return nil
}

// TabTitle names the tab for a user's month, e.g. "2024-03 3f2a9c1d".
func TabTitle(userID string, monthStart time.Time) string {
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return monthStart.Format("2006-01") + " " + short
}

func quote(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// MonthRows lays out the month: a header, one row per day, and a totals row.
// Amounts are written as decimal numbers so sheet formulas keep working.
func MonthRows(mb core.MonthBudget, loc *time.Location) [][]any {
	rows := [][]any{{"Date", "Limit", "Spent", "Remaining", "Status", "Transactions"}}
	for _, d := range mb.DailyLimits {
		rows = append(rows, []any{
			d.Date.In(loc).Format(time.DateOnly),
			major(d.Limit),
			major(d.Spent),
			major(d.Remaining),
			string(d.Status),
			len(d.Transactions),
		})
	}
	rows = append(rows, []any{
		"Total",
		major(mb.TotalBudget),
		major(mb.TotalSpent),
		major(mb.TotalRemaining),
		core.FormatMinor(mb.DailyAverage, core.CurrencyUAH) + "/day",
		mb.DaysRemaining,
	})
	return rows
}

func major(minor int64) float64 {
	return float64(minor) / 100
}
