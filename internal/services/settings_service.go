package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"burnrate/internal/core"
	"burnrate/internal/finmonth"
	"burnrate/internal/log"
	"burnrate/internal/monobank"
	"burnrate/internal/ports"
)

const maxTokenLength = 256

type (
	// TokenVault seals and stores the access token.
	TokenVault interface {
		Store(ctx context.Context, userID, token string) error
	}

	// AccountLister checks a token against the bank and lists its accounts.
	AccountLister interface {
		ClientInfo(ctx context.Context, token string) (monobank.ClientInfo, error)
	}

	// Invalidator drops cached values derived from a user's data.
	Invalidator interface {
		Invalidate(userID string)
	}

	// SettingsUpdate changes only the fields that are set.
	SettingsUpdate struct {
		AccountIDs             *[]string `json:"accountIds,omitempty"`
		Currencies             *[]int    `json:"currencies,omitempty"`
		FinancialMonthStartDay *int      `json:"financialMonthStartDay,omitempty"`
		AIBudget               *bool     `json:"aiBudget,omitempty"`
		TotalBudget            *int64    `json:"totalBudget,omitempty"`
	}
)

type SettingsService struct {
	store       ports.SettingsStore
	vault       TokenVault
	accounts    AccountLister
	invalidator Invalidator
	logger      *log.Logger
}

func NewSettingsService(store ports.SettingsStore, vault TokenVault, accounts AccountLister, invalidator Invalidator, logger *log.Logger) *SettingsService {
	if logger == nil {
		logger = log.Nop()
	}
	return &SettingsService{
		store:       store,
		vault:       vault,
		accounts:    accounts,
		invalidator: invalidator,
		logger:      logger.WithComponent(log.ComponentApp),
	}
}

func (s *SettingsService) Get(ctx context.Context, userID string) (core.UserSettings, error) {
	return ports.LoadUserSettings(ctx, s.store, userID)
}

func (u SettingsUpdate) validate() error {
	var errs []error
	if u.AccountIDs != nil {
		for _, id := range *u.AccountIDs {
			if !validAccountID(id) {
				errs = append(errs, core.NewValidationError("accountIds", fmt.Sprintf("invalid account id %q", id)))
			}
		}
	}
	if u.Currencies != nil {
		for _, c := range *u.Currencies {
			if c <= 0 || c > 999 {
				errs = append(errs, core.NewValidationError("currencies", fmt.Sprintf("invalid currency code %d", c)))
			}
		}
		if u.AccountIDs != nil && len(*u.Currencies) > 0 && len(*u.Currencies) != len(*u.AccountIDs) {
			errs = append(errs, core.NewValidationError("currencies", "must match accountIds one to one"))
		}
	}
	if u.FinancialMonthStartDay != nil {
		if err := finmonth.ValidateStartDay(*u.FinancialMonthStartDay); err != nil {
			errs = append(errs, core.NewValidationError("financialMonthStartDay", err.Error()))
		}
	}
	if u.TotalBudget != nil && *u.TotalBudget < 0 {
		errs = append(errs, core.NewValidationError("totalBudget", "cannot be negative"))
	}
	return errors.Join(errs...)
}

// Update validates and writes a partial settings change. A changed account
// selection needs its history, so the backfill flag is cleared.
func (s *SettingsService) Update(ctx context.Context, userID string, u SettingsUpdate) (core.UserSettings, error) {
	if err := u.validate(); err != nil {
		return core.UserSettings{}, err
	}
	current, err := s.Get(ctx, userID)
	if err != nil {
		return core.UserSettings{}, err
	}

	writes := map[string]string{}
	if u.AccountIDs != nil {
		ids := make([]string, 0, len(*u.AccountIDs))
		for _, id := range *u.AccountIDs {
			ids = append(ids, strings.TrimSpace(id))
		}
		writes[ports.KeyAccountIDs] = ports.JoinList(ids)
		if !sameSet(ids, current.AccountIDs) {
			writes[ports.KeyHistoricalDataLoaded] = ports.FormatBool(false)
		}
	}
	if u.Currencies != nil {
		writes[ports.KeyCurrencies] = ports.JoinInts(*u.Currencies)
	}
	if u.FinancialMonthStartDay != nil {
		writes[ports.KeyFinancialMonthStartDay] = strconv.Itoa(*u.FinancialMonthStartDay)
	}
	if u.AIBudget != nil {
		writes[ports.KeyAIBudget] = ports.FormatBool(*u.AIBudget)
	}
	if u.TotalBudget != nil {
		writes[ports.KeyTotalBudget] = strconv.FormatInt(*u.TotalBudget, 10)
	}
	for k, v := range writes {
		if err := s.store.SetSetting(ctx, userID, k, v); err != nil {
			return core.UserSettings{}, fmt.Errorf("save setting %s: %w", k, err)
		}
	}
	s.invalidate(userID)

	updated, err := s.Get(ctx, userID)
	if err != nil {
		return core.UserSettings{}, err
	}
	s.logger.InfoContext(ctx, "settings updated", log.FieldUserID, userID, "settings", updated)
	return updated, nil
}

// SetToken checks the token against the bank, seals and stores it. When no
// accounts are selected yet, every account of the token is selected.
func (s *SettingsService) SetToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenLength || strings.IndexFunc(token, func(r rune) bool {
		return !unicode.IsPrint(r) || unicode.IsSpace(r)
	}) >= 0 {
		return core.NewValidationError("token", "malformed access token")
	}

	var info monobank.ClientInfo
	if s.accounts != nil {
		var err error
		if info, err = s.accounts.ClientInfo(ctx, token); err != nil {
			if errors.Is(err, core.ErrUnauthorized) {
				return core.NewValidationError("token", "rejected by the bank")
			}
			return fmt.Errorf("verify token: %w", err)
		}
	}

	if err := s.vault.Store(ctx, userID, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	current, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if len(current.AccountIDs) == 0 && len(info.Accounts) > 0 {
		ids := make([]string, len(info.Accounts))
		currencies := make([]int, len(info.Accounts))
		for i, a := range info.Accounts {
			ids[i], currencies[i] = a.ID, a.CurrencyCode
		}
		if _, err := s.Update(ctx, userID, SettingsUpdate{AccountIDs: &ids, Currencies: &currencies}); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "access token updated", log.FieldUserID, userID, log.FieldCount, len(info.Accounts))
	return nil
}

func (s *SettingsService) invalidate(userID string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(userID)
	}
}

func validAccountID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 64 || cleanText(id) != id {
		return false
	}
	for _, r := range id {
		if !(r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		if seen[v] == 0 {
			return false
		}
		seen[v]--
	}
	return true
}
