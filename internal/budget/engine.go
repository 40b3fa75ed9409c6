// Package budget spreads the money a user has left over the remaining days
// of a financial month.
//
// The same Distribute call serves the live month and closed months; the
// difference is only where "now" falls relative to the month bounds.
package budget

import (
	"sort"
	"time"

	"burnrate/internal/classifier"
	"burnrate/internal/core"
	"burnrate/internal/currency"
	"burnrate/internal/finmonth"
	"burnrate/internal/log"
)

// Input is everything one computation needs. Nothing is read from storage.
type Input struct {
	UserID string

	// AvailableBalance is the current balance across the selected accounts, in UAH.
	AvailableBalance int64
	// Anchor is any instant inside the requested financial month.
	Anchor   time.Time
	Now      time.Time
	Location *time.Location

	// Transactions is the full history of the selected accounts, any currency.
	Transactions []core.Transaction
	Rates        []currency.Rate
	Overrides    core.Overrides

	// TotalBudgetSeed, when positive, fixes the month's total budget.
	TotalBudgetSeed int64
	AIMode          bool
	StartDay        int

	// SkipHistoricalLimits recomputes every elapsed day instead of using Snapshots.
	SkipHistoricalLimits bool
	Snapshots            []core.StoredDailyBudget
}

// Result carries the computed month plus a freshly reconstructed snapshot
// for each elapsed day, for the caller to persist.
type Result struct {
	Budget    core.MonthBudget
	Snapshots []core.StoredDailyBudget
}

type Engine struct {
	classifier *classifier.Classifier
	logger     *log.Logger
}

func NewEngine(c *classifier.Classifier, logger *log.Logger) *Engine {
	if c == nil {
		c = classifier.New(nil)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{classifier: c, logger: logger.WithComponent(log.ComponentBudget)}
}

// point is a converted transaction on the timeline.
type point struct {
	ts     int64
	amount int64
}

// Distribute computes the day-by-day plan for the month containing in.Anchor.
func (e *Engine) Distribute(in Input) Result {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	now := in.Now.In(loc)
	start, end := finmonth.Bounds(in.Anchor.In(loc), in.StartDay)
	days := finmonth.Days(start, end)
	today := finmonth.StartOfDay(now)

	conv := currency.NewConverter(in.Rates, e.logger)
	index := e.classifier.Index(in.Transactions)

	// Running-balance timeline of every movement, sorted by time, with
	// suffix sums so the balance at any instant is one lookup away.
	timeline := make([]point, 0, len(in.Transactions))
	spent := make([]int64, len(days))
	dayTxs := make([][]core.Transaction, len(days))
	for _, tx := range in.Transactions {
		amt, _ := conv.ToUAH(tx.Amount, tx.Currency())
		timeline = append(timeline, point{ts: tx.Timestamp, amount: amt})

		t := tx.Time(loc)
		if t.Before(start) || t.After(end) || !index.IsExpense(tx, in.Overrides) {
			continue
		}
		i := finmonth.DaysInclusive(start, t) - 1
		spent[i] += -amt
		dayTxs[i] = append(dayTxs[i], tx)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].ts < timeline[j].ts })
	suffix := make([]int64, len(timeline)+1)
	for i := len(timeline) - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + timeline[i].amount
	}
	upToNow := sort.Search(len(timeline), func(i int) bool { return timeline[i].ts > now.Unix() })
	balanceAt := func(t time.Time) int64 {
		ts := t.Unix()
		i := min(sort.Search(len(timeline), func(i int) bool { return timeline[i].ts >= ts }), upToNow)
		return in.AvailableBalance - (suffix[i] - suffix[upToNow])
	}

	historical := now.After(end)
	firstLive := len(days)
	if !historical {
		firstLive = 0
		for firstLive < len(days) && days[firstLive].Before(today) {
			firstLive++
		}
	}
	daysRemaining := len(days) - firstLive

	stored := make(map[string]core.StoredDailyBudget, len(in.Snapshots))
	for _, s := range in.Snapshots {
		stored[dayKey(s.Date.In(loc))] = s
	}

	limits := make([]int64, len(days))
	snapshots := make([]core.StoredDailyBudget, 0, firstLive)
	for i := 0; i < firstLive; i++ {
		bal := balanceAt(days[i])
		var live int64
		if bal > 0 {
			live = bal / int64(len(days)-i)
		}
		snapshots = append(snapshots, core.StoredDailyBudget{Date: days[i], Limit: live, Spent: spent[i], Balance: bal})

		limits[i] = live
		if s, ok := stored[dayKey(days[i])]; ok && !in.SkipHistoricalLimits {
			limits[i] = s.Limit
		}
	}

	if daysRemaining > 0 {
		pool := max(0, in.AvailableBalance)
		var alloc []int64
		if in.AIMode {
			alloc = allocateWeighted(pool, days[firstLive:], weekdayWeights(in.Transactions, index, in.Overrides, conv, start, loc))
		} else {
			alloc = allocateEven(pool, daysRemaining)
		}
		copy(limits[firstLive:], alloc)
	}

	// The total is what elapsed days were given plus what is left to give,
	// whether elapsed limits come from snapshots or are reconstructed.
	totalBudget := in.TotalBudgetSeed
	if totalBudget <= 0 {
		for _, l := range limits[:firstLive] {
			totalBudget += l
		}
		if daysRemaining > 0 {
			totalBudget += max(0, in.AvailableBalance)
		}
	}

	mb := core.MonthBudget{
		MonthStart:    start,
		MonthEnd:      end,
		TotalBudget:   totalBudget,
		DaysRemaining: daysRemaining,
		DailyLimits:   make([]core.DayBudget, len(days)),
		IsHistorical:  historical,
		Approximate:   conv.Misses() > 0,
	}
	for i, d := range days {
		txs := dayTxs[i]
		if txs == nil {
			txs = []core.Transaction{}
		}
		mb.DailyLimits[i] = core.DayBudget{
			Date:         d,
			Limit:        limits[i],
			Spent:        spent[i],
			Remaining:    limits[i] - spent[i],
			Status:       core.StatusFor(spent[i], limits[i]),
			Transactions: txs,
		}
		mb.TotalSpent += spent[i]
	}
	mb.TotalRemaining = mb.TotalBudget - mb.TotalSpent
	mb.DailyAverage = core.DivRound(mb.TotalSpent, int64(len(days)))
	if !historical && !now.Before(start) {
		bal := in.AvailableBalance
		mb.CurrentBalance = &bal
	}

	if mb.Approximate {
		e.logger.Warn("month computed with missing exchange rates",
			log.FieldUserID, in.UserID,
			log.FieldMonthStart, start.Format(time.DateOnly),
			log.FieldCount, conv.Misses())
	}
	return Result{Budget: mb, Snapshots: snapshots}
}

// allocateEven gives each of n days pool/n; the remainder is dropped so the
// plan never promises more than the balance.
func allocateEven(pool int64, n int) []int64 {
	out := make([]int64, n)
	if n == 0 {
		return out
	}
	per := pool / int64(n)
	for i := range out {
		out[i] = per
	}
	return out
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
