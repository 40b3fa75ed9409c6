// Package categories resolves transactions to display categories.
//
// Resolution order: a manual assignment (custom categories first, then
// built-in), then description rules, then the merchant category code table.
// Anything left over lands in Uncategorized.
package categories

import (
	"sort"

	"burnrate/internal/core"
)

// Info is a resolved category.
type Info struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Icon     string `json:"icon"`
	Color    string `json:"color"`
	IsCustom bool   `json:"isCustom"`
}

type Resolver struct {
	engine *Engine
}

func NewResolver(engine *Engine) *Resolver {
	return &Resolver{engine: engine}
}

// Resolve never fails; unknown assignments fall through to the heuristics.
func (r *Resolver) Resolve(tx core.Transaction, assignments map[string]string, custom []core.CustomCategory) Info {
	if key, ok := assignments[tx.ID]; ok {
		for _, c := range custom {
			if c.Key == key {
				return Info{Key: c.Key, Name: c.Name, Icon: c.Icon, Color: c.Color, IsCustom: true}
			}
		}
		if c, ok := builtinByKey[key]; ok {
			return infoOf(c)
		}
	}
	if r.engine != nil {
		if m, ok := r.engine.Match(tx.Description); ok {
			return infoOf(builtinByKey[m.Category])
		}
	}
	if key, ok := ByMCC(tx.MerchantCategoryCode); ok {
		return infoOf(builtinByKey[key])
	}
	return infoOf(builtinByKey[Uncategorized])
}

func infoOf(c core.CustomCategory) Info {
	return Info{Key: c.Key, Name: c.Name, Icon: c.Icon, Color: c.Color}
}

// Known reports whether key is a built-in or one of custom.
func Known(key string, custom []core.CustomCategory) bool {
	if IsBuiltin(key) {
		return true
	}
	for _, c := range custom {
		if c.Key == key {
			return true
		}
	}
	return false
}

// Total is the spend of one category over a period.
type Total struct {
	Info
	Amount int64 `json:"amount"`
	Count  int   `json:"count"`
}

// Summarize groups expenses by resolved category. amounts holds the
// converted expense magnitude per transaction id; transactions missing from
// it are skipped. Result is sorted by amount, largest first.
func (r *Resolver) Summarize(txs []core.Transaction, amounts map[string]int64, assignments map[string]string, custom []core.CustomCategory) []Total {
	byKey := make(map[string]*Total)
	for _, tx := range txs {
		amt, ok := amounts[tx.ID]
		if !ok {
			continue
		}
		info := r.Resolve(tx, assignments, custom)
		t, ok := byKey[info.Key]
		if !ok {
			t = &Total{Info: info}
			byKey[info.Key] = t
		}
		t.Amount += amt
		t.Count++
	}
	out := make([]Total, 0, len(byKey))
	for _, t := range byKey {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Key < out[j].Key
	})
	return out
}
