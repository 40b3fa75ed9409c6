package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"burnrate/internal/core"
)

// Settings keys. Values are stored as plain strings.
const (
	KeyAccountIDs             = "account_ids"
	KeyCurrencies             = "currencies"
	KeyFinancialMonthStartDay = "financial_month_start_day"
	KeyAIBudget               = "ai_budget"
	KeyLastSyncTime           = "last_sync_time"
	KeyHistoricalDataLoaded   = "historical_data_loaded"
	KeyHistoricalPeriodStart  = "historical_period_start"
	KeyHistoricalPeriodEnd    = "historical_period_end"
	KeyToken                  = "mono_token"
	KeySyncProgress           = "sync_progress"
	KeySyncCancel             = "sync_cancel"
	KeyTotalBudget            = "total_budget"
)

const DefaultStartDay = 1

// LoadUserSettings assembles typed settings from the key/value store.
// Missing keys take their defaults; malformed values are errors.
func LoadUserSettings(ctx context.Context, s SettingsStore, userID string) (core.UserSettings, error) {
	out := core.UserSettings{FinancialMonthStartDay: DefaultStartDay}
	get := func(key string) (string, error) {
		v, _, err := s.Setting(ctx, userID, key)
		return v, err
	}

	v, err := get(KeyAccountIDs)
	if err != nil {
		return out, err
	}
	out.AccountIDs = splitList(v)

	if v, err = get(KeyCurrencies); err != nil {
		return out, err
	}
	for _, c := range splitList(v) {
		n, err := strconv.Atoi(c)
		if err != nil {
			return out, fmt.Errorf("setting %s: %w", KeyCurrencies, err)
		}
		out.Currencies = append(out.Currencies, n)
	}

	if v, err = get(KeyFinancialMonthStartDay); err != nil {
		return out, err
	}
	if v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return out, fmt.Errorf("setting %s: %w", KeyFinancialMonthStartDay, err)
		}
		out.FinancialMonthStartDay = n
	}

	if v, err = get(KeyAIBudget); err != nil {
		return out, err
	}
	out.AIBudget = v == "true"

	if v, err = get(KeyHistoricalDataLoaded); err != nil {
		return out, err
	}
	out.HistoricalDataLoaded = v == "true"

	for key, dst := range map[string]*time.Time{
		KeyLastSyncTime:          &out.LastSyncTime,
		KeyHistoricalPeriodStart: &out.HistoricalPeriodStart,
		KeyHistoricalPeriodEnd:   &out.HistoricalPeriodEnd,
	} {
		if v, err = get(key); err != nil {
			return out, err
		}
		if *dst, err = ParseTime(v); err != nil {
			return out, fmt.Errorf("setting %s: %w", key, err)
		}
	}

	if out.EncryptedToken, err = get(KeyToken); err != nil {
		return out, err
	}
	return out, nil
}

// FormatTime stores instants as unix seconds; zero is stored as empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func ParseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0), nil
}

func FormatBool(b bool) string {
	return strconv.FormatBool(b)
}

// JoinList and splitList store lists comma separated.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

func JoinInts(items []int) string {
	s := make([]string, len(items))
	for i, n := range items {
		s[i] = strconv.Itoa(n)
	}
	return JoinList(s)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Progress is the observable state of a running sync.
type Progress struct {
	Running   bool      `json:"running"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updatedAt"`
	Error     string    `json:"error,omitempty"`
}

func SaveProgress(ctx context.Context, s SettingsStore, userID string, p Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.SetSetting(ctx, userID, KeySyncProgress, string(b))
}

func LoadProgress(ctx context.Context, s SettingsStore, userID string) (Progress, error) {
	v, ok, err := s.Setting(ctx, userID, KeySyncProgress)
	if err != nil || !ok || v == "" {
		return Progress{}, err
	}
	var p Progress
	if err := json.Unmarshal([]byte(v), &p); err != nil {
		return Progress{}, fmt.Errorf("setting %s: %w", KeySyncProgress, err)
	}
	return p, nil
}
