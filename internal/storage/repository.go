package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"burnrate/internal/core"
	"burnrate/internal/log"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, logger: logger.WithComponent(log.ComponentStorage)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return core.StoreError("ping", r.db.PingContext(ctx))
}

// missingTable reports a schema that was never provisioned; reads treat it as empty.
func missingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

const txColumns = "id, account_id, ts, description, mcc, amount, balance, cashback, currency_code, comment"

func (r *SQLiteRepository) Transactions(ctx context.Context, userID, accountID string) ([]core.Transaction, error) {
	q := "SELECT " + txColumns + " FROM transactions WHERE user_id = ?"
	args := []any{userID}
	if accountID != "" {
		q += " AND account_id = ?"
		args = append(args, accountID)
	}
	q += " ORDER BY ts DESC, id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if missingTable(err) {
		return []core.Transaction{}, nil
	}
	if err != nil {
		return nil, core.StoreError("list transactions", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		var tx core.Transaction
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Timestamp, &tx.Description, &tx.MerchantCategoryCode,
			&tx.Amount, &tx.BalanceAfter, &tx.Cashback, &tx.CurrencyCode, &tx.Comment); err != nil {
			return nil, core.StoreError("scan transaction", err)
		}
		out = append(out, tx)
	}
	return out, core.StoreError("list transactions", rows.Err())
}

func (r *SQLiteRepository) SaveTransactions(ctx context.Context, userID string, txs []core.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.StoreError("begin save transactions", err)
	}
	defer dbtx.Rollback()

	stmt, err := dbtx.PrepareContext(ctx, `
		INSERT INTO transactions (user_id, `+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, id) DO UPDATE SET
			account_id    = excluded.account_id,
			ts            = excluded.ts,
			description   = excluded.description,
			mcc           = excluded.mcc,
			amount        = excluded.amount,
			balance       = excluded.balance,
			cashback      = excluded.cashback,
			currency_code = excluded.currency_code,
			comment       = CASE WHEN excluded.comment <> '' THEN excluded.comment ELSE transactions.comment END`)
	if err != nil {
		return core.StoreError("prepare save transactions", err)
	}
	defer stmt.Close()

	for _, tx := range txs {
		if _, err := stmt.ExecContext(ctx, userID, tx.ID, tx.AccountID, tx.Timestamp, tx.Description,
			tx.MerchantCategoryCode, tx.Amount, tx.BalanceAfter, tx.Cashback, tx.Currency(), tx.Comment); err != nil {
			return core.StoreError("save transaction "+tx.ID, err)
		}
	}
	if err := dbtx.Commit(); err != nil {
		return core.StoreError("commit save transactions", err)
	}

	r.logger.DebugContext(ctx, "Transactions saved", log.FieldUserID, userID, log.FieldCount, len(txs))
	return nil
}

func (r *SQLiteRepository) DeleteTransactionsAfter(ctx context.Context, userID string, ts int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM transactions WHERE user_id = ? AND ts >= ?", userID, ts)
	if err != nil {
		return core.StoreError("delete transactions", err)
	}
	n, _ := res.RowsAffected()
	r.logger.DebugContext(ctx, "Transactions deleted", log.FieldUserID, userID, log.FieldCount, n)
	return nil
}

func (r *SQLiteRepository) UpdateComment(ctx context.Context, userID, txID, comment string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE transactions SET comment = ? WHERE user_id = ? AND id = ?", comment, userID, txID)
	if err != nil {
		return core.StoreError("update comment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", txID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Setting(ctx context.Context, userID, key string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE user_id = ? AND key = ?", userID, key).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows), missingTable(err):
		return "", false, nil
	case err != nil:
		return "", false, core.StoreError("get setting "+key, err)
	}
	return v, true, nil
}

func (r *SQLiteRepository) SetSetting(ctx context.Context, userID, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (user_id, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		userID, key, value)
	return core.StoreError("set setting "+key, err)
}

func (r *SQLiteRepository) UserIDs(ctx context.Context) ([]string, error) {
	return r.column(ctx, "list users", "SELECT DISTINCT user_id FROM settings ORDER BY user_id")
}

func (r *SQLiteRepository) DailyBudgets(ctx context.Context, userID string, from, to time.Time) ([]core.StoredDailyBudget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, limit_amount, spent, balance FROM daily_budgets
		WHERE user_id = ? AND day >= ? AND day <= ? ORDER BY day`,
		userID, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if missingTable(err) {
		return []core.StoredDailyBudget{}, nil
	}
	if err != nil {
		return nil, core.StoreError("list daily budgets", err)
	}
	defer rows.Close()

	out := []core.StoredDailyBudget{}
	for rows.Next() {
		var (
			day string
			b   core.StoredDailyBudget
		)
		if err := rows.Scan(&day, &b.Limit, &b.Spent, &b.Balance); err != nil {
			return nil, core.StoreError("scan daily budget", err)
		}
		if b.Date, err = time.ParseInLocation(time.DateOnly, day, from.Location()); err != nil {
			return nil, core.StoreError("parse daily budget date", err)
		}
		out = append(out, b)
	}
	return out, core.StoreError("list daily budgets", rows.Err())
}

func (r *SQLiteRepository) SaveDailyBudget(ctx context.Context, userID string, b core.StoredDailyBudget, overwrite bool) (bool, error) {
	q := `INSERT INTO daily_budgets (user_id, day, limit_amount, spent, balance) VALUES (?, ?, ?, ?, ?)`
	if overwrite {
		q += ` ON CONFLICT (user_id, day) DO UPDATE SET limit_amount = excluded.limit_amount, spent = excluded.spent, balance = excluded.balance`
	} else {
		q += ` ON CONFLICT (user_id, day) DO NOTHING`
	}
	res, err := r.db.ExecContext(ctx, q, userID, b.Date.Format(time.DateOnly), b.Limit, b.Spent, b.Balance)
	if err != nil {
		return false, core.StoreError("save daily budget", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *SQLiteRepository) Overrides(ctx context.Context, userID string) (core.Overrides, error) {
	excluded, err := r.column(ctx, "list excluded", "SELECT transaction_id FROM excluded_transactions WHERE user_id = ?", userID)
	if err != nil {
		return core.Overrides{}, err
	}
	included, err := r.column(ctx, "list included", "SELECT transaction_id FROM included_transactions WHERE user_id = ?", userID)
	if err != nil {
		return core.Overrides{}, err
	}
	return core.NewOverrides(excluded, included), nil
}

func (r *SQLiteRepository) SetExcluded(ctx context.Context, userID, txID string, excluded bool) error {
	return r.toggle(ctx, "excluded_transactions", userID, txID, excluded)
}

func (r *SQLiteRepository) SetIncluded(ctx context.Context, userID, txID string, included bool) error {
	return r.toggle(ctx, "included_transactions", userID, txID, included)
}

// toggle is only called with the fixed override table names above.
func (r *SQLiteRepository) toggle(ctx context.Context, table, userID, txID string, on bool) error {
	var err error
	if on {
		_, err = r.db.ExecContext(ctx, "INSERT OR IGNORE INTO "+table+" (user_id, transaction_id) VALUES (?, ?)", userID, txID)
	} else {
		_, err = r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE user_id = ? AND transaction_id = ?", userID, txID)
	}
	return core.StoreError("toggle "+table, err)
}

func (r *SQLiteRepository) CustomCategories(ctx context.Context, userID string) ([]core.CustomCategory, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, name, icon, color FROM custom_categories WHERE user_id = ? ORDER BY key", userID)
	if missingTable(err) {
		return []core.CustomCategory{}, nil
	}
	if err != nil {
		return nil, core.StoreError("list categories", err)
	}
	defer rows.Close()

	out := []core.CustomCategory{}
	for rows.Next() {
		var c core.CustomCategory
		if err := rows.Scan(&c.Key, &c.Name, &c.Icon, &c.Color); err != nil {
			return nil, core.StoreError("scan category", err)
		}
		out = append(out, c)
	}
	return out, core.StoreError("list categories", rows.Err())
}

func (r *SQLiteRepository) SaveCustomCategory(ctx context.Context, userID string, c core.CustomCategory) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO custom_categories (user_id, key, name, icon, color) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE SET name = excluded.name, icon = excluded.icon, color = excluded.color`,
		userID, c.Key, c.Name, c.Icon, c.Color)
	return core.StoreError("save category", err)
}

func (r *SQLiteRepository) DeleteCustomCategory(ctx context.Context, userID, key string) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.StoreError("begin delete category", err)
	}
	defer dbtx.Rollback()

	res, err := dbtx.ExecContext(ctx, "DELETE FROM custom_categories WHERE user_id = ? AND key = ?", userID, key)
	if err != nil {
		return core.StoreError("delete category", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category %s: %w", key, core.ErrNotFound)
	}
	if _, err := dbtx.ExecContext(ctx, "DELETE FROM category_assignments WHERE user_id = ? AND category_key = ?", userID, key); err != nil {
		return core.StoreError("delete category assignments", err)
	}
	return core.StoreError("commit delete category", dbtx.Commit())
}

func (r *SQLiteRepository) CategoryAssignments(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT transaction_id, category_key FROM category_assignments WHERE user_id = ?", userID)
	if missingTable(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, core.StoreError("list assignments", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var tx, key string
		if err := rows.Scan(&tx, &key); err != nil {
			return nil, core.StoreError("scan assignment", err)
		}
		out[tx] = key
	}
	return out, core.StoreError("list assignments", rows.Err())
}

func (r *SQLiteRepository) AssignCategory(ctx context.Context, userID, txID, key string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO category_assignments (user_id, transaction_id, category_key) VALUES (?, ?, ?)
		ON CONFLICT (user_id, transaction_id) DO UPDATE SET category_key = excluded.category_key`,
		userID, txID, key)
	return core.StoreError("assign category", err)
}

func (r *SQLiteRepository) UnassignCategory(ctx context.Context, userID, txID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM category_assignments WHERE user_id = ? AND transaction_id = ?", userID, txID)
	return core.StoreError("unassign category", err)
}

func (r *SQLiteRepository) column(ctx context.Context, op, q string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if missingTable(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, core.StoreError(op, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, core.StoreError(op, err)
		}
		out = append(out, s)
	}
	return out, core.StoreError(op, rows.Err())
}
