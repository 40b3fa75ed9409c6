package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"burnrate/internal/core"
	"burnrate/internal/ports"
)

var _ ports.Store = (*SQLiteRepository)(nil)

func newRepo(t *testing.T) (*SQLiteRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burnrate.db")
	r, err := NewSQLiteRepository(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, path
}

func TestMigrationsApplied(t *testing.T) {
	_, path := newRepo(t)
	v, dirty, err := SchemaVersion(path)
	if err != nil || dirty || v != 2 {
		t.Fatalf("SchemaVersion = %d, %v, %v", v, dirty, err)
	}
}

func TestTransactionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)

	txs := []core.Transaction{
		{ID: "1", AccountID: "a", Timestamp: 100, Description: "Coffee", MerchantCategoryCode: 5814, Amount: -5000, BalanceAfter: 95000},
		{ID: "2", AccountID: "b", Timestamp: 200, Description: "Book", Amount: -1200, CurrencyCode: 840},
	}
	if err := r.SaveTransactions(ctx, "u", txs); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateComment(ctx, "u", "1", "with Anna"); err != nil {
		t.Fatal(err)
	}
	// Re-saving the same ids must not duplicate or wipe the comment.
	if err := r.SaveTransactions(ctx, "u", txs); err != nil {
		t.Fatal(err)
	}

	got, err := r.Transactions(ctx, "u", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "2" || got[1].Comment != "with Anna" {
		t.Fatalf("Transactions = %+v", got)
	}
	if got[1].Currency() != core.CurrencyUAH || got[0].CurrencyCode != 840 {
		t.Fatalf("currency codes: %d %d", got[1].CurrencyCode, got[0].CurrencyCode)
	}

	onlyA, _ := r.Transactions(ctx, "u", "a")
	if len(onlyA) != 1 || onlyA[0].ID != "1" {
		t.Fatalf("account filter = %+v", onlyA)
	}

	if err := r.DeleteTransactionsAfter(ctx, "u", 200); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Transactions(ctx, "u", "")
	if len(got) != 1 {
		t.Fatalf("after delete: %+v", got)
	}

	if err := r.UpdateComment(ctx, "u", "nope", "x"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("UpdateComment missing = %v", err)
	}
}

func TestSettingsAndUsers(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)

	if _, ok, err := r.Setting(ctx, "u", ports.KeyAccountIDs); ok || err != nil {
		t.Fatalf("missing setting = %v, %v", ok, err)
	}
	_ = r.SetSetting(ctx, "u", ports.KeyAccountIDs, "a,b")
	_ = r.SetSetting(ctx, "u", ports.KeyAccountIDs, "a")
	_ = r.SetSetting(ctx, "v", ports.KeyAIBudget, "true")

	v, ok, err := r.Setting(ctx, "u", ports.KeyAccountIDs)
	if err != nil || !ok || v != "a" {
		t.Fatalf("Setting = %q, %v, %v", v, ok, err)
	}
	ids, _ := r.UserIDs(ctx)
	if len(ids) != 2 || ids[0] != "u" || ids[1] != "v" {
		t.Fatalf("UserIDs = %v", ids)
	}
}

func TestDailyBudgetPolicy(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	saved, err := r.SaveDailyBudget(ctx, "u", core.StoredDailyBudget{Date: day, Limit: 100, Spent: 20, Balance: 3000}, false)
	if err != nil || !saved {
		t.Fatalf("save = %v, %v", saved, err)
	}
	if saved, _ = r.SaveDailyBudget(ctx, "u", core.StoredDailyBudget{Date: day, Limit: 999}, false); saved {
		t.Fatal("overwrote without overwrite flag")
	}
	got, _ := r.DailyBudgets(ctx, "u", day.AddDate(0, 0, -5), day.AddDate(0, 0, 5))
	if len(got) != 1 || got[0].Limit != 100 || !got[0].Date.Equal(day) {
		t.Fatalf("DailyBudgets = %+v", got)
	}
	if saved, _ = r.SaveDailyBudget(ctx, "u", core.StoredDailyBudget{Date: day, Limit: 999}, true); !saved {
		t.Fatal("forced overwrite not saved")
	}
	got, _ = r.DailyBudgets(ctx, "u", day, day)
	if got[0].Limit != 999 {
		t.Fatalf("after overwrite: %+v", got)
	}
}

func TestOverridesAndCategories(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)

	_ = r.SetExcluded(ctx, "u", "1", true)
	_ = r.SetExcluded(ctx, "u", "1", true)
	_ = r.SetIncluded(ctx, "u", "2", true)
	o, err := r.Overrides(ctx, "u")
	if err != nil || !o.IsExcluded("1") || !o.IsIncluded("2") || len(o.Excluded) != 1 {
		t.Fatalf("Overrides = %+v, %v", o, err)
	}
	_ = r.SetExcluded(ctx, "u", "1", false)
	if o, _ = r.Overrides(ctx, "u"); o.IsExcluded("1") {
		t.Fatal("exclusion not removed")
	}

	_ = r.SaveCustomCategory(ctx, "u", core.CustomCategory{Key: "pets", Name: "Pets"})
	_ = r.AssignCategory(ctx, "u", "1", "pets")
	_ = r.AssignCategory(ctx, "u", "2", "groceries")
	if err := r.DeleteCustomCategory(ctx, "u", "pets"); err != nil {
		t.Fatal(err)
	}
	a, _ := r.CategoryAssignments(ctx, "u")
	if len(a) != 1 || a["2"] != "groceries" {
		t.Fatalf("assignments = %v", a)
	}
	if err := r.DeleteCustomCategory(ctx, "u", "pets"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second delete = %v", err)
	}
}

func TestMissingTableReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)
	if _, err := r.db.ExecContext(ctx, "DROP TABLE custom_categories"); err != nil {
		t.Fatal(err)
	}
	got, err := r.CustomCategories(ctx, "u")
	if err != nil || len(got) != 0 {
		t.Fatalf("CustomCategories on missing table = %v, %v", got, err)
	}
	if err := r.SaveCustomCategory(ctx, "u", core.CustomCategory{Key: "x"}); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("write to missing table = %v", err)
	}
}
