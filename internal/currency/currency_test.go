package currency

import (
	"context"
	"errors"
	"testing"
	"time"
)

var table = []Rate{
	{CurrencyCodeA: 840, CurrencyCodeB: 980, RateBuy: 41.0, RateSell: 41.5},
	{CurrencyCodeA: 978, CurrencyCodeB: 980, RateBuy: 44.1, RateSell: 44.9},
	{CurrencyCodeA: 985, CurrencyCodeB: 980, RateCross: 10.25},
	{CurrencyCodeA: 978, CurrencyCodeB: 840, RateBuy: 1.07, RateSell: 1.09},
}

func TestConvert(t *testing.T) {
	cases := []struct {
		name   string
		amount int64
		from   int
		want   int64
		wantOK bool
	}{
		{"uah unchanged", -12345, 980, -12345, true},
		{"zero code treated as uah", 500, 0, 500, true},
		{"usd uses sell rate", -1000, 840, -41500, true},
		{"eur rounds to nearest", -333, 978, -14952, true},
		{"cross rate when no sell", 200, 985, 2050, true},
		{"missing rate returns original", -700, 826, -700, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Convert(tc.amount, tc.from, table)
			if got != tc.want || ok != tc.wantOK {
				t.Fatalf("Convert(%d, %d) = (%d, %v), want (%d, %v)", tc.amount, tc.from, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestConverterCountsMisses(t *testing.T) {
	c := NewConverter(table, nil)
	if v, approx := c.ToUAH(-100, 840); approx || v != -4150 {
		t.Fatalf("ToUAH usd = (%d, %v)", v, approx)
	}
	if v, approx := c.ToUAH(-100, 999); !approx || v != -100 {
		t.Fatalf("ToUAH unknown = (%d, %v), want (-100, true)", v, approx)
	}
	if c.Misses() != 1 {
		t.Fatalf("Misses = %d, want 1", c.Misses())
	}
}

type countingSource struct {
	calls int
	err   error
}

func (s *countingSource) CurrencyRates(context.Context) ([]Rate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return table, nil
}

func TestCachedSource(t *testing.T) {
	src := &countingSource{}
	cs := NewCachedSource(src, time.Minute, nil)

	for i := 0; i < 3; i++ {
		rates, err := cs.CurrencyRates(context.Background())
		if err != nil || len(rates) != len(table) {
			t.Fatalf("CurrencyRates = %v, %v", rates, err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("source called %d times, want 1", src.calls)
	}

	cs.cache.Delete(ratesKey)
	src.err = errors.New("feed down")
	rates, err := cs.CurrencyRates(context.Background())
	if err != nil || len(rates) != len(table) {
		t.Fatalf("stale fallback = %v, %v", rates, err)
	}
}

func TestCachedSourceErrorWithoutStale(t *testing.T) {
	cs := NewCachedSource(&countingSource{err: errors.New("boom")}, time.Minute, nil)
	if _, err := cs.CurrencyRates(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
