package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"burnrate/internal/core"
	"burnrate/internal/log"
	"burnrate/internal/monobank"
)

const clientInfoKey = "client-info"

// limiter returns the pacing limiter for one account of one user.
func (o *Orchestrator) limiter(userID, key string) *rate.Limiter {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := userID + "/" + key
	l, ok := o.limiters[k]
	if !ok {
		limit := rate.Inf
		if o.cfg.RequestInterval > 0 {
			limit = rate.Every(o.cfg.RequestInterval)
		}
		l = rate.NewLimiter(limit, 1)
		o.limiters[k] = l
	}
	return l
}

// call performs one paced request. A throttled request is retried exactly
// once after the cooldown. The token lives only for the request.
func call[T any](ctx context.Context, r *run, key string, do func(token string) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		if err := r.o.limiter(r.userID, key).Wait(ctx); err != nil {
			return zero, waitError(ctx, err)
		}
		token, err := r.o.tokens.Token(ctx, r.userID)
		if err != nil {
			return zero, err
		}
		v, err := do(token)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, core.ErrRateLimited) || attempt == 2 {
			return zero, err
		}
		r.logger.WarnContext(ctx, "Rate limited, cooling down", log.FieldAccountID, key, log.FieldAttempt, attempt)
		r.report("Bank asked us to slow down, waiting before retrying")
		if err := r.o.sleep(ctx, r.o.cfg.RateLimitCooldown); err != nil {
			return zero, err
		}
	}
}

// waitError keeps a failed pacing wait fatal. The limiter reports a deadline
// it cannot meet with its own unwrapped error before ctx ends.
func waitError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

// fetch loads every item of account in [from, to], following pagination.
func (r *run) fetch(ctx context.Context, accountID string, from, to time.Time) ([]core.Transaction, error) {
	cur := r.currency(ctx, accountID)
	var out []core.Transaction
	for {
		items, err := call(ctx, r, accountID, func(token string) ([]monobank.StatementItem, error) {
			return r.o.source.Statement(ctx, token, accountID, from, to)
		})
		if err != nil {
			r.logger.WarnContext(ctx, "Statement unit failed",
				log.NewFields().WithSyncUnit(accountID, from.Unix(), to.Unix()).WithError(err).ToSlice()...)
			return nil, err
		}
		oldest := to.Unix()
		for _, it := range items {
			out = append(out, it.Transaction(accountID, cur))
			oldest = min(oldest, it.Time)
		}
		if len(items) < monobank.MaxStatementItems {
			return out, nil
		}
		to = time.Unix(oldest-1, 0)
		if to.Before(from) {
			return out, nil
		}
	}
}

// currency resolves the account currency from settings, then from the
// client info fetched at most once per run. UAH when unknown.
func (r *run) currency(ctx context.Context, accountID string) int {
	if c, ok := r.settings.AccountCurrency(accountID); ok {
		return c
	}
	if r.clientInfo == nil {
		ci, err := call(ctx, r, clientInfoKey, func(token string) (monobank.ClientInfo, error) {
			return r.o.source.ClientInfo(ctx, token)
		})
		if err != nil {
			r.logger.WarnContext(ctx, "Client info unavailable, assuming UAH accounts", log.FieldError, err)
			ci = monobank.ClientInfo{}
		}
		r.clientInfo = &ci
	}
	if a, ok := r.clientInfo.Account(accountID); ok && a.CurrencyCode != 0 {
		return a.CurrencyCode
	}
	return core.CurrencyUAH
}
