package core

import (
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// CurrencyUAH is the ISO 4217 numeric code every amount is converted to.
const CurrencyUAH = 980

const (
	StatusUnder   DayStatus = "under"
	StatusWarning DayStatus = "warning"
	StatusOver    DayStatus = "over"
)

type (
	DayStatus string

	// Transaction is a single bank movement. Only Comment is ever mutated.
	Transaction struct {
		ID                   string `json:"id"`
		AccountID            string `json:"accountId,omitempty"`
		Timestamp            int64  `json:"time"`
		Description          string `json:"description"`
		MerchantCategoryCode int    `json:"mcc"`
		Amount               int64  `json:"amount"`
		BalanceAfter         int64  `json:"balance"`
		Cashback             int64  `json:"cashbackAmount,omitempty"`
		CurrencyCode         int    `json:"currencyCode"`
		Comment              string `json:"comment,omitempty"`
	}

	DayBudget struct {
		Date         time.Time     `json:"date"`
		Limit        int64         `json:"limit"`
		Spent        int64         `json:"spent"`
		Remaining    int64         `json:"remaining"`
		Status       DayStatus     `json:"status"`
		Transactions []Transaction `json:"transactions"`
	}

	MonthBudget struct {
		MonthStart     time.Time   `json:"monthStart"`
		MonthEnd       time.Time   `json:"monthEnd"`
		TotalBudget    int64       `json:"totalBudget"`
		TotalSpent     int64       `json:"totalSpent"`
		TotalRemaining int64       `json:"totalRemaining"`
		DaysRemaining  int         `json:"daysRemaining"`
		DailyLimits    []DayBudget `json:"dailyLimits"`
		CurrentBalance *int64      `json:"currentBalance,omitempty"`
		DailyAverage   int64       `json:"dailyAverage"`
		IsHistorical   bool        `json:"isHistorical"`
		Approximate    bool        `json:"approximate,omitempty"`
	}

	// StoredDailyBudget is the durable snapshot of a day that left the live window.
	StoredDailyBudget struct {
		Date    time.Time `json:"date"`
		Limit   int64     `json:"limit"`
		Spent   int64     `json:"spent"`
		Balance int64     `json:"balance"`
	}

	UserSettings struct {
		AccountIDs             []string  `json:"accountIds"`
		Currencies             []int     `json:"currencies"`
		FinancialMonthStartDay int       `json:"financialMonthStartDay"`
		AIBudget               bool      `json:"aiBudget"`
		LastSyncTime           time.Time `json:"lastSyncTime"`
		HistoricalDataLoaded   bool      `json:"historicalDataLoaded"`
		HistoricalPeriodStart  time.Time `json:"historicalPeriodStart"`
		HistoricalPeriodEnd    time.Time `json:"historicalPeriodEnd"`
		// EncryptedToken stays sealed everywhere except the sync request path.
		EncryptedToken string `json:"-"`
	}

	CustomCategory struct {
		Key   string `json:"key"`
		Name  string `json:"name"`
		Icon  string `json:"icon"`
		Color string `json:"color"`
	}

	CategoryAssignment struct {
		TransactionID string `json:"transactionId"`
		CategoryKey   string `json:"categoryKey"`
	}

	// Overrides are the manual classification lists of one user.
	Overrides struct {
		Excluded map[string]struct{}
		Included map[string]struct{}
	}
)

// Time returns the transaction timestamp as a time in loc.
func (t Transaction) Time(loc *time.Location) time.Time {
	return time.Unix(t.Timestamp, 0).In(loc)
}

// Currency returns the currency code, defaulting to UAH.
func (t Transaction) Currency() int {
	if t.CurrencyCode == 0 {
		return CurrencyUAH
	}
	return t.CurrencyCode
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return NewValidationError("id", "empty transaction id")
	}
	if t.Timestamp <= 0 {
		return NewValidationError("time", "timestamp must be positive")
	}
	if t.MerchantCategoryCode < 0 || t.MerchantCategoryCode > 9999 {
		return NewValidationError("mcc", "merchant category code out of range")
	}
	if t.Cashback < 0 {
		return NewValidationError("cashbackAmount", "cashback cannot be negative")
	}
	if utf8.RuneCountInString(t.Comment) > MaxCommentLength {
		return NewValidationError("comment", "comment too long")
	}
	return nil
}

// MaxCommentLength bounds user-entered transaction comments.
const MaxCommentLength = 500

// StatusFor derives the day status from spent and limit.
// Under 80% is under, 80% up to 100% is warning, 100% and above is over.
func StatusFor(spent, limit int64) DayStatus {
	if limit <= 0 {
		if spent > 0 {
			return StatusOver
		}
		return StatusUnder
	}
	switch {
	case spent >= limit:
		return StatusOver
	case spent*100 >= limit*80:
		return StatusWarning
	default:
		return StatusUnder
	}
}

// NewOverrides builds override sets from id lists.
func NewOverrides(excluded, included []string) Overrides {
	o := Overrides{
		Excluded: make(map[string]struct{}, len(excluded)),
		Included: make(map[string]struct{}, len(included)),
	}
	for _, id := range excluded {
		o.Excluded[id] = struct{}{}
	}
	for _, id := range included {
		o.Included[id] = struct{}{}
	}
	return o
}

func (o Overrides) IsExcluded(id string) bool {
	_, ok := o.Excluded[id]
	return ok
}

func (o Overrides) IsIncluded(id string) bool {
	_, ok := o.Included[id]
	return ok
}

// Clone returns a deep copy so speculative edits never touch the original.
func (o Overrides) Clone() Overrides {
	c := Overrides{
		Excluded: make(map[string]struct{}, len(o.Excluded)),
		Included: make(map[string]struct{}, len(o.Included)),
	}
	for k := range o.Excluded {
		c.Excluded[k] = struct{}{}
	}
	for k := range o.Included {
		c.Included[k] = struct{}{}
	}
	return c
}

// LogValue keeps the sealed token out of structured logs.
func (s UserSettings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("account_ids", s.AccountIDs),
		slog.Int("start_day", s.FinancialMonthStartDay),
		slog.Bool("ai_budget", s.AIBudget),
		slog.Bool("historical_loaded", s.HistoricalDataLoaded),
		slog.Time("last_sync", s.LastSyncTime),
		slog.Bool("has_token", s.EncryptedToken != ""),
	)
}

// HasToken reports whether an access token is configured.
func (s UserSettings) HasToken() bool {
	return s.EncryptedToken != ""
}

// AccountCurrency returns the configured currency of an account, if known.
func (s UserSettings) AccountCurrency(accountID string) (int, bool) {
	for i, id := range s.AccountIDs {
		if id == accountID && i < len(s.Currencies) && s.Currencies[i] > 0 {
			return s.Currencies[i], true
		}
	}
	return 0, false
}
