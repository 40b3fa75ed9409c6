package budget

import (
	"math/bits"
	"time"

	"burnrate/internal/classifier"
	"burnrate/internal/core"
	"burnrate/internal/currency"
)

// ProfileWeeks is how much history before the month start shapes the
// weekday profile.
const ProfileWeeks = 8

// weekdayWeights sums expenses per weekday over the profile window. Each
// weekday also gets the mean of all seven so quiet days keep a share.
// All zeros means no history.
func weekdayWeights(txs []core.Transaction, index *classifier.Index, o core.Overrides, conv *currency.Converter, monthStart time.Time, loc *time.Location) [7]int64 {
	var w [7]int64
	from := monthStart.AddDate(0, 0, -7*ProfileWeeks)
	var total int64
	for _, tx := range txs {
		t := tx.Time(loc)
		if t.Before(from) || !t.Before(monthStart) || !index.IsExpense(tx, o) {
			continue
		}
		amt, _ := conv.ToUAH(tx.Amount, tx.Currency())
		w[t.Weekday()] += -amt
		total += -amt
	}
	if total == 0 {
		return [7]int64{}
	}
	mean := total / 7
	for i := range w {
		w[i] += mean
	}
	return w
}

// allocateWeighted splits pool over days in proportion to the weekday
// weights. Shares are floored and the leftover goes one unit at a time to
// the earliest days, so the result always sums to pool.
func allocateWeighted(pool int64, days []time.Time, w [7]int64) []int64 {
	out := make([]int64, len(days))
	if len(days) == 0 {
		return out
	}
	for i := range w {
		w[i] = max(0, w[i])
	}
	var sum int64
	for _, d := range days {
		sum += w[d.Weekday()]
	}
	if sum == 0 {
		per := pool / int64(len(days))
		for i := range out {
			out[i] = per
		}
		sum = per * int64(len(days))
		for i := 0; sum < pool; i++ {
			out[i%len(out)]++
			sum++
		}
		return out
	}

	var given int64
	for i, d := range days {
		out[i] = mulDiv(pool, w[d.Weekday()], sum)
		given += out[i]
	}
	for i := 0; given < pool; i++ {
		out[i%len(out)]++
		given++
	}
	return out
}

// mulDiv returns a*b/c for 0 <= b <= c with a 128-bit product, so large
// balances times large weights do not overflow.
func mulDiv(a, b, c int64) int64 {
	if a <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	q, _ := bits.Div64(hi, lo, uint64(c))
	return int64(q)
}
