// Package currency converts minor-unit amounts into UAH using the latest
// published rate table.
//
// Conversion uses the sell rate, falling back to the cross rate when no sell
// rate is published. Historical amounts are converted with today's rates.
package currency

import (
	"math"
	"sync"
	"sync/atomic"

	"burnrate/internal/core"
	"burnrate/internal/log"
)

// Rate mirrors one entry of the public rate feed.
type Rate struct {
	CurrencyCodeA int     `json:"currencyCodeA"`
	CurrencyCodeB int     `json:"currencyCodeB"`
	Date          int64   `json:"date"`
	RateBuy       float64 `json:"rateBuy,omitempty"`
	RateSell      float64 `json:"rateSell,omitempty"`
	RateCross     float64 `json:"rateCross,omitempty"`
}

// Convert returns amount expressed in UAH minor units. When no rate is
// found the amount is returned unchanged and ok is false.
func Convert(amount int64, from int, rates []Rate) (converted int64, ok bool) {
	if from == 0 || from == core.CurrencyUAH {
		return amount, true
	}
	r, found := lookup(from, rates)
	if !found {
		return amount, false
	}
	return int64(math.Round(float64(amount) * r)), true
}

func lookup(from int, rates []Rate) (float64, bool) {
	for _, r := range rates {
		if r.CurrencyCodeA != from || r.CurrencyCodeB != core.CurrencyUAH {
			continue
		}
		if r.RateSell > 0 {
			return r.RateSell, true
		}
		if r.RateCross > 0 {
			return r.RateCross, true
		}
	}
	return 0, false
}

// Converter applies Convert and records misses in the log and a counter.
type Converter struct {
	rates  []Rate
	logger *log.Logger
	misses atomic.Int64

	mu     sync.Mutex
	warned map[int]bool
}

func NewConverter(rates []Rate, logger *log.Logger) *Converter {
	if logger == nil {
		logger = log.Nop()
	}
	return &Converter{
		rates:  rates,
		logger: logger.WithComponent(log.ComponentCurrency),
		warned: make(map[int]bool),
	}
}

// ToUAH converts amount and reports whether the result is approximate.
func (c *Converter) ToUAH(amount int64, from int) (int64, bool) {
	v, ok := Convert(amount, from, c.rates)
	if !ok {
		c.misses.Add(1)
		c.mu.Lock()
		first := !c.warned[from]
		c.warned[from] = true
		c.mu.Unlock()
		if first {
			c.logger.Warn("rate unavailable, using unconverted amount",
				log.FieldCurrency, core.ISOCode(from),
				"numeric_code", from,
				log.FieldError, core.ErrConversionUnavailable.Error())
		}
		return v, true
	}
	return v, false
}

// Misses returns how many conversions fell back to the raw amount.
func (c *Converter) Misses() int64 {
	return c.misses.Load()
}
