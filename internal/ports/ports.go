package ports

import (
	"context"
	"time"

	"burnrate/internal/core"
)

// Ports for the persistence collaborator. Every method is scoped to one user.
type (
	TransactionStore interface {
		// Transactions returns the user's transactions, all accounts when accountID is empty.
		Transactions(ctx context.Context, userID, accountID string) ([]core.Transaction, error)
		// SaveTransactions upserts by id; a stored comment survives an empty incoming one.
		SaveTransactions(ctx context.Context, userID string, txs []core.Transaction) error
		// DeleteTransactionsAfter removes transactions with timestamp >= ts.
		DeleteTransactionsAfter(ctx context.Context, userID string, ts int64) error
		UpdateComment(ctx context.Context, userID, txID, comment string) error
	}

	SettingsStore interface {
		// Setting returns the raw value and whether the key exists.
		Setting(ctx context.Context, userID, key string) (string, bool, error)
		SetSetting(ctx context.Context, userID, key, value string) error
		// UserIDs lists every user that has any settings.
		UserIDs(ctx context.Context) ([]string, error)
	}

	BudgetStore interface {
		// DailyBudgets returns snapshots with from <= date <= to, ordered by date.
		DailyBudgets(ctx context.Context, userID string, from, to time.Time) ([]core.StoredDailyBudget, error)
		// SaveDailyBudget writes a snapshot. An existing one is kept unless
		// overwrite is set; saved reports whether anything was written.
		SaveDailyBudget(ctx context.Context, userID string, b core.StoredDailyBudget, overwrite bool) (saved bool, err error)
	}

	OverrideStore interface {
		Overrides(ctx context.Context, userID string) (core.Overrides, error)
		SetExcluded(ctx context.Context, userID, txID string, excluded bool) error
		SetIncluded(ctx context.Context, userID, txID string, included bool) error
	}

	CategoryStore interface {
		CustomCategories(ctx context.Context, userID string) ([]core.CustomCategory, error)
		SaveCustomCategory(ctx context.Context, userID string, c core.CustomCategory) error
		// DeleteCustomCategory also drops assignments pointing at key.
		DeleteCustomCategory(ctx context.Context, userID, key string) error
		// CategoryAssignments maps transaction id to category key.
		CategoryAssignments(ctx context.Context, userID string) (map[string]string, error)
		AssignCategory(ctx context.Context, userID, txID, key string) error
		UnassignCategory(ctx context.Context, userID, txID string) error
	}

	// Store is the full persistence collaborator.
	Store interface {
		TransactionStore
		SettingsStore
		BudgetStore
		OverrideStore
		CategoryStore
		Ping(ctx context.Context) error
		Close() error
	}
)
