package categories

import (
	"strings"
	"testing"

	"burnrate/internal/core"
)

func TestEmbeddedRulesLoad(t *testing.T) {
	e, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded: %v", err)
	}
	rules := e.Rules()
	for i := 1; i < len(rules); i++ {
		if rules[i].Priority > rules[i-1].Priority {
			t.Fatalf("rules not sorted by priority at %d", i)
		}
	}
}

func TestNewEngineRejectsBadRules(t *testing.T) {
	cases := map[string]string{
		"unknown category": "rules:\n  - {name: x, pattern: a, match_type: contains, priority: 1, category: nope}\n",
		"bad match type":   "rules:\n  - {name: x, pattern: a, match_type: regex, priority: 1, category: cash}\n",
		"empty pattern":    "rules:\n  - {name: x, pattern: ' ', match_type: exact, priority: 1, category: cash}\n",
		"priority":         "rules:\n  - {name: x, pattern: a, match_type: exact, priority: 1000, category: cash}\n",
		"syntax":           "rules: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewEngine([]byte(data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMatchPriorityAndTransfer(t *testing.T) {
	e, err := NewEngine([]byte(`
rules:
  - {name: low, pattern: shop, match_type: contains, priority: 10, category: shopping}
  - {name: high, pattern: coffee shop, match_type: contains, priority: 20, category: restaurants}
  - {name: move, pattern: "to savings", match_type: exact, priority: 5, category: transfers, transfer: true}
`))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := e.Match("  Corner COFFEE shop ")
	if !ok || m.Category != "restaurants" || m.RuleName != "high" {
		t.Fatalf("Match = %+v, %v", m, ok)
	}
	if !e.IsTransfer("To Savings") {
		t.Fatal("exact transfer rule should match case-insensitively")
	}
	if e.IsTransfer("to savings account") {
		t.Fatal("exact rule must not match a longer description")
	}
	if _, ok := e.Match(""); ok {
		t.Fatal("empty description should not match")
	}
}

func TestByMCC(t *testing.T) {
	cases := []struct {
		mcc  int
		want string
		ok   bool
	}{
		{5411, "groceries", true},
		{5814, "restaurants", true},
		{6011, "cash", true},
		{3456, "travel", true},
		{5912, "health", true},
		{5999, "shopping", true},
		{1, "", false},
	}
	for _, tc := range cases {
		got, ok := ByMCC(tc.mcc)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ByMCC(%d) = %q, %v; want %q, %v", tc.mcc, got, ok, tc.want, tc.ok)
		}
	}
}

func TestResolvePriority(t *testing.T) {
	r := NewResolver(MustLoadEmbedded())
	custom := []core.CustomCategory{{Key: "kids", Name: "Kids", Icon: "🧸", Color: "#fff"}}

	cases := []struct {
		name        string
		tx          core.Transaction
		assignments map[string]string
		wantKey     string
		wantCustom  bool
	}{
		{
			name:        "custom assignment wins",
			tx:          core.Transaction{ID: "1", Description: "Сільпо", MerchantCategoryCode: 5411},
			assignments: map[string]string{"1": "kids"},
			wantKey:     "kids",
			wantCustom:  true,
		},
		{
			name:        "builtin assignment",
			tx:          core.Transaction{ID: "2", Description: "Сільпо", MerchantCategoryCode: 5411},
			assignments: map[string]string{"2": "health"},
			wantKey:     "health",
		},
		{
			name:        "stale assignment falls through to rules",
			tx:          core.Transaction{ID: "3", Description: "Uber trip", MerchantCategoryCode: 5411},
			assignments: map[string]string{"3": "deleted"},
			wantKey:     "transport",
		},
		{
			name:    "mcc lookup",
			tx:      core.Transaction{ID: "4", Description: "Some cafe", MerchantCategoryCode: 5812},
			wantKey: "restaurants",
		},
		{
			name:    "uncategorized fallback",
			tx:      core.Transaction{ID: "5", Description: "???", MerchantCategoryCode: 1},
			wantKey: Uncategorized,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Resolve(tc.tx, tc.assignments, custom)
			if got.Key != tc.wantKey || got.IsCustom != tc.wantCustom {
				t.Fatalf("Resolve = %+v, want key %q custom %v", got, tc.wantKey, tc.wantCustom)
			}
			if strings.TrimSpace(got.Name) == "" {
				t.Fatal("resolved category has no name")
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	r := NewResolver(nil)
	txs := []core.Transaction{
		{ID: "a", MerchantCategoryCode: 5411},
		{ID: "b", MerchantCategoryCode: 5411},
		{ID: "c", MerchantCategoryCode: 5812},
		{ID: "d", MerchantCategoryCode: 5812},
	}
	amounts := map[string]int64{"a": 100, "b": 250, "c": 50}
	got := r.Summarize(txs, amounts, nil, nil)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Key != "groceries" || got[0].Amount != 350 || got[0].Count != 2 {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].Key != "restaurants" || got[1].Amount != 50 || got[1].Count != 1 {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestKnown(t *testing.T) {
	custom := []core.CustomCategory{{Key: "pets"}}
	if !Known("groceries", nil) || !Known("pets", custom) || Known("nope", custom) {
		t.Fatal("Known mismatch")
	}
}
