package services

import (
	"context"
	"errors"
	"testing"

	"burnrate/internal/core"
	"burnrate/internal/monobank"
	"burnrate/internal/ports"
	"burnrate/internal/storage/memory"
)

type fakeVault struct {
	tokens map[string]string
}

func (f *fakeVault) Store(_ context.Context, userID, token string) error {
	f.tokens[userID] = token
	return nil
}

type fakeLister struct {
	info monobank.ClientInfo
	err  error
}

func (f fakeLister) ClientInfo(context.Context, string) (monobank.ClientInfo, error) {
	return f.info, f.err
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate(string) { c.n++ }

func ptr[T any](v T) *T { return &v }

func TestSettingsUpdate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	inv := &countingInvalidator{}
	svc := NewSettingsService(store, &fakeVault{tokens: map[string]string{}}, nil, inv, nil)
	_ = store.SetSetting(ctx, "u1", ports.KeyHistoricalDataLoaded, "true")
	_ = store.SetSetting(ctx, "u1", ports.KeyAccountIDs, "a")

	got, err := svc.Update(ctx, "u1", SettingsUpdate{
		AccountIDs:             ptr([]string{"a", "b"}),
		Currencies:             ptr([]int{980, 840}),
		FinancialMonthStartDay: ptr(25),
		AIBudget:               ptr(true),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.FinancialMonthStartDay != 25 || !got.AIBudget || len(got.AccountIDs) != 2 {
		t.Errorf("settings = %+v", got)
	}
	if got.HistoricalDataLoaded {
		t.Error("new account selection should require a backfill")
	}
	if c, ok := got.AccountCurrency("b"); !ok || c != 840 {
		t.Errorf("AccountCurrency(b) = %d, %v", c, ok)
	}
	if inv.n != 1 {
		t.Errorf("invalidations = %d, want 1", inv.n)
	}

	_ = store.SetSetting(ctx, "u1", ports.KeyHistoricalDataLoaded, "true")
	got, _ = svc.Update(ctx, "u1", SettingsUpdate{AccountIDs: ptr([]string{"b", "a"})})
	if !got.HistoricalDataLoaded {
		t.Error("reordering accounts must keep the backfill")
	}
}

func TestSettingsUpdateValidation(t *testing.T) {
	svc := NewSettingsService(memory.New(), &fakeVault{tokens: map[string]string{}}, nil, nil, nil)
	tests := []struct {
		name string
		u    SettingsUpdate
	}{
		{"start day zero", SettingsUpdate{FinancialMonthStartDay: ptr(0)}},
		{"start day 32", SettingsUpdate{FinancialMonthStartDay: ptr(32)}},
		{"markup in account id", SettingsUpdate{AccountIDs: ptr([]string{"<script>"})}},
		{"empty account id", SettingsUpdate{AccountIDs: ptr([]string{""})}},
		{"currency out of range", SettingsUpdate{Currencies: ptr([]int{1000})}},
		{"currency count mismatch", SettingsUpdate{AccountIDs: ptr([]string{"a"}), Currencies: ptr([]int{980, 840})}},
		{"negative total", SettingsUpdate{TotalBudget: ptr(int64(-1))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Update(context.Background(), "u1", tt.u); !core.IsValidation(err) {
				t.Errorf("Update() err = %v, want validation error", err)
			}
		})
	}
}

func TestSetToken(t *testing.T) {
	ctx := context.Background()
	lister := fakeLister{info: monobank.ClientInfo{Accounts: []monobank.Account{
		{ID: "black", CurrencyCode: 980},
		{ID: "usd", CurrencyCode: 840},
	}}}

	t.Run("selects accounts on first token", func(t *testing.T) {
		store := memory.New()
		vault := &fakeVault{tokens: map[string]string{}}
		svc := NewSettingsService(store, vault, lister, nil, nil)
		if err := svc.SetToken(ctx, "u1", "  tok-123 "); err != nil {
			t.Fatal(err)
		}
		if vault.tokens["u1"] != "tok-123" {
			t.Errorf("stored token = %q", vault.tokens["u1"])
		}
		s, _ := svc.Get(ctx, "u1")
		if len(s.AccountIDs) != 2 || s.AccountIDs[1] != "usd" || s.Currencies[1] != 840 {
			t.Errorf("settings = %+v", s)
		}
	})

	t.Run("keeps existing selection", func(t *testing.T) {
		store := memory.New()
		_ = store.SetSetting(ctx, "u1", ports.KeyAccountIDs, "black")
		svc := NewSettingsService(store, &fakeVault{tokens: map[string]string{}}, lister, nil, nil)
		if err := svc.SetToken(ctx, "u1", "tok"); err != nil {
			t.Fatal(err)
		}
		s, _ := svc.Get(ctx, "u1")
		if len(s.AccountIDs) != 1 {
			t.Errorf("AccountIDs = %v", s.AccountIDs)
		}
	})

	t.Run("rejected token", func(t *testing.T) {
		vault := &fakeVault{tokens: map[string]string{}}
		svc := NewSettingsService(memory.New(), vault, fakeLister{err: core.ErrUnauthorized}, nil, nil)
		if err := svc.SetToken(ctx, "u1", "tok"); !core.IsValidation(err) {
			t.Errorf("SetToken() err = %v", err)
		}
		if len(vault.tokens) != 0 {
			t.Error("rejected token must not be stored")
		}
	})

	t.Run("source down", func(t *testing.T) {
		svc := NewSettingsService(memory.New(), &fakeVault{tokens: map[string]string{}}, fakeLister{err: errors.New("timeout")}, nil, nil)
		if err := svc.SetToken(ctx, "u1", "tok"); err == nil || core.IsValidation(err) {
			t.Errorf("SetToken() err = %v, want plain failure", err)
		}
	})

	for _, bad := range []string{"", "has space", "tab\there"} {
		svc := NewSettingsService(memory.New(), &fakeVault{tokens: map[string]string{}}, lister, nil, nil)
		if err := svc.SetToken(ctx, "u1", bad); !core.IsValidation(err) {
			t.Errorf("SetToken(%q) err = %v", bad, err)
		}
	}
}

func TestCategoryService(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewCategoryService(store, nil)

	c, err := svc.Save(ctx, "u1", core.CustomCategory{Key: " Pets ", Name: "<i>Pets</i>", Color: "#aabbcc"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Key != "pets" || c.Name != "Pets" {
		t.Errorf("saved = %+v", c)
	}

	list, _ := svc.List(ctx, "u1")
	last := list[len(list)-1]
	if !last.IsCustom || last.Key != "pets" {
		t.Errorf("last category = %+v", last)
	}

	invalid := []core.CustomCategory{
		{Key: "bad key", Name: "x"},
		{Key: "groceries", Name: "Mine"},
		{Key: "ok", Name: ""},
		{Key: "ok", Name: "x", Color: "red"},
	}
	for _, in := range invalid {
		if _, err := svc.Save(ctx, "u1", in); !core.IsValidation(err) {
			t.Errorf("Save(%+v) err = %v", in, err)
		}
	}

	if err := svc.Delete(ctx, "u1", "groceries"); !core.IsValidation(err) {
		t.Errorf("Delete(builtin) err = %v", err)
	}
	if err := svc.Delete(ctx, "u1", "pets"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "u1", "pets"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second Delete err = %v", err)
	}
}
