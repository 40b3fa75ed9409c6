package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"burnrate/internal/core"
)

func sampleMonth() core.MonthBudget {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return core.MonthBudget{
		MonthStart:     start,
		MonthEnd:       time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		TotalBudget:    600000,
		TotalSpent:     18000,
		TotalRemaining: 582000,
		DaysRemaining:  2,
		DailyAverage:   20000,
		DailyLimits: []core.DayBudget{
			{Date: start, Limit: 20000, Spent: 18000, Remaining: 2000, Status: core.StatusWarning,
				Transactions: []core.Transaction{{ID: "t1"}}},
			{Date: start.AddDate(0, 0, 1), Limit: 20000, Status: core.StatusUnder},
		},
	}
}

func TestMonthRows(t *testing.T) {
	rows := MonthRows(sampleMonth(), time.UTC)
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 2 days + total", len(rows))
	}
	if rows[0][0] != "Date" {
		t.Errorf("header = %v", rows[0])
	}
	day := rows[1]
	if day[0] != "2024-03-01" || day[1] != 200.0 || day[2] != 180.0 || day[4] != "warning" || day[5] != 1 {
		t.Errorf("day row = %v", day)
	}
	total := rows[3]
	if total[0] != "Total" || total[1] != 6000.0 || total[3] != 5820.0 || total[5] != 2 {
		t.Errorf("total row = %v", total)
	}
}

func TestTabTitle(t *testing.T) {
	start := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		user string
		want string
	}{
		{"u1", "2024-03 u1"},
		{"3f2a9c1d-aaaa-bbbb", "2024-03 3f2a9c1d"},
	}
	for _, tt := range tests {
		if got := TabTitle(tt.user, start); got != tt.want {
			t.Errorf("TabTitle(%q) = %q, want %q", tt.user, got, tt.want)
		}
	}
	if got := quote("it's"); got != "'it''s'" {
		t.Errorf("quote() = %q", got)
	}
}

type fakeSheets struct {
	mu       sync.Mutex
	existing []string
	calls    []string
	written  [][]any
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path
	f.calls = append(f.calls, r.Method+" "+path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet:
		var sheets []map[string]any
		for _, title := range f.existing {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": title}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		var vr struct {
			Values [][]any `json:"values"`
		}
		_ = json.Unmarshal(body, &vr)
		f.written = vr.Values
		_, _ = io.WriteString(w, "{}")
	default:
		_, _ = io.WriteString(w, "{}")
	}
}

func (f *fakeSheets) count(pred func(string) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if pred(c) {
			n++
		}
	}
	return n
}

func newTestExporter(t *testing.T, fake *fakeSheets) *Exporter {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return NewWithService(svc, "sid", time.UTC, nil)
}

func TestExportMonth(t *testing.T) {
	isBatch := func(c string) bool { return strings.HasSuffix(c, ":batchUpdate") }
	isClear := func(c string) bool { return strings.HasSuffix(c, ":clear") }
	isPut := func(c string) bool { return strings.HasPrefix(c, http.MethodPut) }

	t.Run("creates missing tab", func(t *testing.T) {
		fake := &fakeSheets{}
		e := newTestExporter(t, fake)

		ref, err := e.ExportMonth(context.Background(), "u1", sampleMonth())
		if err != nil {
			t.Fatalf("ExportMonth() error = %v", err)
		}
		if ref != "'2024-03 u1'!A1:F4" {
			t.Errorf("ref = %q", ref)
		}
		if fake.count(isBatch) != 1 || fake.count(isClear) != 1 || fake.count(isPut) != 1 {
			t.Errorf("calls = %v", fake.calls)
		}
		if len(fake.written) != 4 {
			t.Errorf("wrote %d rows, want 4", len(fake.written))
		}
	})

	t.Run("reuses existing tab", func(t *testing.T) {
		fake := &fakeSheets{existing: []string{"2024-03 u1"}}
		e := newTestExporter(t, fake)

		if _, err := e.ExportMonth(context.Background(), "u1", sampleMonth()); err != nil {
			t.Fatalf("ExportMonth() error = %v", err)
		}
		if fake.count(isBatch) != 0 {
			t.Errorf("unexpected tab creation: %v", fake.calls)
		}
	})
}

func TestNew(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Error("expected error without spreadsheet id")
	}
	if _, err := New(context.Background(), Config{SpreadsheetID: "sid"}, nil); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := New(context.Background(), Config{SpreadsheetID: "sid", ServiceAccountFile: "/non/existent.json"}, nil); err == nil {
		t.Error("expected error for missing credentials file")
	}
	var nilSvc Exporter
	if _, err := nilSvc.ExportMonth(context.Background(), "u1", sampleMonth()); err == nil {
		t.Error("expected error with no service")
	}
}
