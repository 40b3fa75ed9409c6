// Package monobank is a client for the Monobank open API: personal
// statements, client info and public currency rates.
package monobank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"burnrate/internal/core"
	"burnrate/internal/currency"
	"burnrate/internal/log"
)

const (
	DefaultBaseURL = "https://api.monobank.ua"

	// MaxStatementItems is the page size of /personal/statement. A full
	// page means older items in the window were cut off.
	MaxStatementItems = 500
	// MaxStatementWindow is the longest from..to span one statement call accepts.
	MaxStatementWindow = 31*24*time.Hour + time.Hour
)

type (
	Account struct {
		ID           string   `json:"id"`
		SendID       string   `json:"sendId"`
		Balance      int64    `json:"balance"`
		CreditLimit  int64    `json:"creditLimit"`
		Type         string   `json:"type"`
		CurrencyCode int      `json:"currencyCode"`
		CashbackType string   `json:"cashbackType"`
		MaskedPan    []string `json:"maskedPan"`
		IBAN         string   `json:"iban"`
	}

	ClientInfo struct {
		ClientID string    `json:"clientId"`
		Name     string    `json:"name"`
		Accounts []Account `json:"accounts"`
	}

	StatementItem struct {
		ID              string `json:"id"`
		Time            int64  `json:"time"`
		Description     string `json:"description"`
		MCC             int    `json:"mcc"`
		OriginalMCC     int    `json:"originalMcc"`
		Hold            bool   `json:"hold"`
		Amount          int64  `json:"amount"`
		OperationAmount int64  `json:"operationAmount"`
		CurrencyCode    int    `json:"currencyCode"`
		CommissionRate  int64  `json:"commissionRate"`
		CashbackAmount  int64  `json:"cashbackAmount"`
		Balance         int64  `json:"balance"`
		Comment         string `json:"comment"`
	}

	// APIError is a non-success response other than throttling or auth.
	APIError struct {
		Status      int
		Description string
	}
)

func (e *APIError) Error() string {
	return fmt.Sprintf("monobank: status %d: %s", e.Status, e.Description)
}

// Account returns the account with id.
func (ci ClientInfo) Account(id string) (Account, bool) {
	for _, a := range ci.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// Transaction maps a statement item owned by accountID. Amount and
// balance are in the account currency, so that is the transaction currency.
func (it StatementItem) Transaction(accountID string, accountCurrency int) core.Transaction {
	return core.Transaction{
		ID:                   it.ID,
		AccountID:            accountID,
		Timestamp:            it.Time,
		Description:          it.Description,
		MerchantCategoryCode: it.MCC,
		Amount:               it.Amount,
		BalanceAfter:         it.Balance,
		Cashback:             max(0, it.CashbackAmount),
		CurrencyCode:         accountCurrency,
		Comment:              it.Comment,
	}
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

func New(baseURL string, httpClient *http.Client, logger *log.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.WithComponent(log.ComponentSource),
	}
}

func newHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: 45 * time.Second,
	}
}

func (c *Client) ClientInfo(ctx context.Context, token string) (ClientInfo, error) {
	var ci ClientInfo
	err := c.get(ctx, "/personal/client-info", token, &ci)
	return ci, err
}

// Statement returns one page of items for account in [from, to], newest first.
func (c *Client) Statement(ctx context.Context, token, accountID string, from, to time.Time) ([]StatementItem, error) {
	if to.Sub(from) > MaxStatementWindow {
		return nil, core.NewValidationError("window", "statement window longer than 31 days")
	}
	path := fmt.Sprintf("/personal/statement/%s/%d/%d", accountID, from.Unix(), to.Unix())
	var items []StatementItem
	if err := c.get(ctx, path, token, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CurrencyRates implements currency.Source.
func (c *Client) CurrencyRates(ctx context.Context) ([]currency.Rate, error) {
	var rates []currency.Rate
	err := c.get(ctx, "/bank/currency", "", &rates)
	return rates, err
}

func (c *Client) get(ctx context.Context, path, token string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if token != "" {
		req.Header.Set("X-Token", token)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("monobank request: %w", err)
	}
	defer resp.Body.Close()

	// The path carries only the account id; the token never reaches the log.
	c.logger.DebugContext(ctx, "Monobank request",
		log.FieldPath, path,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read monobank response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return core.ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("monobank rejected token: %w", core.ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return &APIError{Status: resp.StatusCode, Description: errorDescription(body)}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode monobank response: %w", err)
	}
	return nil
}

func errorDescription(body []byte) string {
	var e struct {
		ErrorDescription string `json:"errorDescription"`
	}
	if json.Unmarshal(body, &e) == nil && e.ErrorDescription != "" {
		return e.ErrorDescription
	}
	return strings.TrimSpace(string(body))
}

// IsAPIError reports whether err is an APIError with the given status.
func IsAPIError(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}
