// Package core holds the domain model shared by the budget engine,
// the sync orchestrator and the HTTP layer.
//
// All amounts are integers in minor currency units.
package core

import (
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.Ukrainian)

var isoByNumeric = map[int]currency.Unit{
	980: currency.MustParseISO("UAH"),
	840: currency.USD,
	978: currency.EUR,
	985: currency.MustParseISO("PLN"),
	826: currency.GBP,
}

// ISOCode returns the alphabetic code for a numeric currency code.
func ISOCode(numeric int) string {
	if u, ok := isoByNumeric[numeric]; ok {
		return u.String()
	}
	return "XXX"
}

// FormatMinor renders minor units with the currency symbol for display.
func FormatMinor(amount int64, numeric int) string {
	u, ok := isoByNumeric[numeric]
	if !ok {
		u = isoByNumeric[CurrencyUAH]
	}
	return printer.Sprint(currency.Symbol(u.Amount(float64(amount) / 100)))
}

// DivRound divides with rounding to the nearest integer, halves away from zero.
func DivRound(n, d int64) int64 {
	if d == 0 {
		return 0
	}
	if (n < 0) != (d < 0) {
		return (n - d/2) / d
	}
	return (n + d/2) / d
}
