// Package classifier decides which transactions count as spending.
//
// A transaction is an expense candidate when its amount is negative. The
// heuristics then drop internal transfers, ATM withdrawals that were put
// back, and purchases that were refunded. Manual lists override both: an
// excluded id is never an expense, an included id skips the heuristics.
package classifier

import (
	"time"

	"burnrate/internal/core"
)

// Reason explains why a negative transaction is not counted.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonIncome        Reason = "income"
	ReasonManualExclude Reason = "excluded"
	ReasonTransferRule  Reason = "transfer"
	ReasonTransferPair  Reason = "transfer_pair"
	ReasonATMOffset     Reason = "atm_offset"
	ReasonRefunded      Reason = "refunded"
)

const (
	PairWindow   = 5 * time.Minute
	ATMWindow    = 24 * time.Hour
	RefundWindow = 30 * 24 * time.Hour
)

// TransferMatcher recognizes own-account movements by description.
type TransferMatcher interface {
	IsTransfer(description string) bool
}

type Classifier struct {
	transfers TransferMatcher
}

func New(transfers TransferMatcher) *Classifier {
	return &Classifier{transfers: transfers}
}

// IsExpense classifies tx against the full transaction history.
// For many lookups over the same history use Index.
func (c *Classifier) IsExpense(tx core.Transaction, all []core.Transaction, overrides core.Overrides) bool {
	return c.Index(all).IsExpense(tx, overrides)
}

// Index prepares the history so that heuristic lookups are cheap.
func (c *Classifier) Index(all []core.Transaction) *Index {
	byAbs := make(map[int64][]core.Transaction)
	for _, tx := range all {
		byAbs[abs(tx.Amount)] = append(byAbs[abs(tx.Amount)], tx)
	}
	return &Index{transfers: c.transfers, byAbs: byAbs}
}

// Index is the history of one user keyed by absolute amount.
type Index struct {
	transfers TransferMatcher
	byAbs     map[int64][]core.Transaction
}

func (ix *Index) IsExpense(tx core.Transaction, overrides core.Overrides) bool {
	return ix.Classify(tx, overrides) == ReasonNone
}

// Classify returns ReasonNone for an expense, otherwise why it is not one.
func (ix *Index) Classify(tx core.Transaction, overrides core.Overrides) Reason {
	if tx.Amount >= 0 {
		return ReasonIncome
	}
	if overrides.IsExcluded(tx.ID) {
		return ReasonManualExclude
	}
	if overrides.IsIncluded(tx.ID) {
		return ReasonNone
	}
	return ix.heuristic(tx)
}

func (ix *Index) heuristic(tx core.Transaction) Reason {
	if ix.transfers != nil && ix.transfers.IsTransfer(tx.Description) {
		return ReasonTransferRule
	}
	ts := tx.Timestamp
	for _, o := range ix.byAbs[abs(tx.Amount)] {
		if o.ID == tx.ID || o.Amount != -tx.Amount {
			continue
		}
		d := time.Duration(o.Timestamp-ts) * time.Second
		if tx.AccountID != "" && o.AccountID != "" && o.AccountID != tx.AccountID && within(d, PairWindow) {
			return ReasonTransferPair
		}
		if isATM(tx.MerchantCategoryCode) && within(d, ATMWindow) {
			return ReasonATMOffset
		}
		if d > 0 && d <= RefundWindow && sameMerchant(tx, o) {
			return ReasonRefunded
		}
	}
	return ReasonNone
}

func sameMerchant(purchase, refund core.Transaction) bool {
	if purchase.Description != "" && purchase.Description == refund.Description {
		return true
	}
	return purchase.MerchantCategoryCode != 0 && purchase.MerchantCategoryCode == refund.MerchantCategoryCode
}

func isATM(mcc int) bool {
	return mcc == 6010 || mcc == 6011
}

func within(d, window time.Duration) bool {
	if d < 0 {
		d = -d
	}
	return d <= window
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
