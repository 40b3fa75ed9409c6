// Package syncer reconciles the local transaction store with the bank's
// rate-limited statement feed.
//
// A sync runs in one of three modes picked from the stored settings:
// a full backfill of the lookback window, a same-day refresh, or an
// incremental catch-up from the last sync point. Requests are paced per
// account, a throttled request is retried once after a cooldown, and a unit
// of work (one window of one account) that still fails is skipped.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"burnrate/internal/core"
	"burnrate/internal/finmonth"
	"burnrate/internal/log"
	"burnrate/internal/monobank"
	"burnrate/internal/ports"
)

type Mode string

const (
	ModeBackfill    Mode = "backfill"
	ModeSameDay     Mode = "same_day"
	ModeIncremental Mode = "incremental"
)

// ErrCancelled is returned when a sync stops between units on request.
var ErrCancelled = errors.New("sync cancelled")

type (
	// Source is the external transaction feed.
	Source interface {
		ClientInfo(ctx context.Context, token string) (monobank.ClientInfo, error)
		Statement(ctx context.Context, token, accountID string, from, to time.Time) ([]monobank.StatementItem, error)
	}

	// TokenProvider hands out the decrypted access token for one request.
	TokenProvider interface {
		Token(ctx context.Context, userID string) (string, error)
	}

	Store interface {
		ports.TransactionStore
		ports.SettingsStore
	}

	Progress struct {
		Completed int    `json:"completed"`
		Total     int    `json:"total"`
		Message   string `json:"message"`
	}

	// Hooks let the caller observe and stop a run. Both are optional.
	Hooks struct {
		Progress  func(Progress)
		Cancelled func() bool
	}

	Report struct {
		Mode      Mode      `json:"mode"`
		Units     int       `json:"units"`
		Failed    int       `json:"failed"`
		Saved     int       `json:"saved"`
		SyncedAt  time.Time `json:"syncedAt"`
		Coalesced bool      `json:"coalesced,omitempty"`
	}

	Config struct {
		LookbackMonths    int
		RequestInterval   time.Duration
		RateLimitCooldown time.Duration
		StaleAfter        time.Duration
		Location          *time.Location
	}
)

func DefaultConfig() Config {
	return Config{
		LookbackMonths:    12,
		RequestInterval:   61 * time.Second,
		RateLimitCooldown: 60 * time.Second,
		StaleAfter:        30 * 24 * time.Hour,
		Location:          time.UTC,
	}
}

type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleeper replaces the cooldown wait.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

type Orchestrator struct {
	source Source
	tokens TokenProvider
	store  Store
	cfg    Config
	logger *log.Logger
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error

	group    singleflight.Group
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	inflight map[string]bool
}

func New(source Source, tokens TokenProvider, store Store, cfg Config, logger *log.Logger, opts ...Option) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LookbackMonths <= 0 {
		cfg.LookbackMonths = DefaultConfig().LookbackMonths
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultConfig().StaleAfter
	}
	if logger == nil {
		logger = log.Nop()
	}
	o := &Orchestrator{
		source:   source,
		tokens:   tokens,
		store:    store,
		cfg:      cfg,
		logger:   logger.WithComponent(log.ComponentSync),
		now:      time.Now,
		sleep:    sleepContext,
		limiters: map[string]*rate.Limiter{},
		inflight: map[string]bool{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SelectMode picks how to sync given the stored state.
func SelectMode(s core.UserSettings, now time.Time, staleAfter time.Duration) Mode {
	switch {
	case !s.HistoricalDataLoaded, s.LastSyncTime.IsZero(), now.Sub(s.LastSyncTime) > staleAfter:
		return ModeBackfill
	case finmonth.SameDay(now, s.LastSyncTime):
		return ModeSameDay
	default:
		return ModeIncremental
	}
}

// InFlight reports whether a sync for userID is running.
func (o *Orchestrator) InFlight(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight[userID]
}

// Sync runs one sync for userID. Concurrent calls for the same user share
// the running sync and its result; their hooks are not invoked.
func (o *Orchestrator) Sync(ctx context.Context, userID string, hooks Hooks) (Report, error) {
	if userID == "" {
		return Report{}, core.ErrUnauthorized
	}
	v, err, shared := o.group.Do(userID, func() (any, error) {
		o.setInflight(userID, true)
		defer o.setInflight(userID, false)
		return o.run(ctx, userID, hooks)
	})
	rep, _ := v.(Report)
	rep.Coalesced = shared
	return rep, err
}

func (o *Orchestrator) setInflight(userID string, on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if on {
		o.inflight[userID] = true
	} else {
		delete(o.inflight, userID)
	}
}

// run is one sync pass; it carries the per-run state.
type run struct {
	o        *Orchestrator
	userID   string
	hooks    Hooks
	now      time.Time
	settings core.UserSettings
	logger   *log.Logger

	completed, total int
	clientInfo       *monobank.ClientInfo
}

func (o *Orchestrator) run(ctx context.Context, userID string, hooks Hooks) (Report, error) {
	settings, err := ports.LoadUserSettings(ctx, o.store, userID)
	if err != nil {
		return Report{}, fmt.Errorf("load settings: %w", err)
	}
	if len(settings.AccountIDs) == 0 {
		return Report{}, core.NewValidationError("accountIds", "no accounts selected")
	}

	now := o.now().In(o.cfg.Location)
	r := &run{
		o:        o,
		userID:   userID,
		hooks:    hooks,
		now:      now,
		settings: settings,
		logger:   o.logger.WithUser(userID),
	}
	mode := SelectMode(settings, now, o.cfg.StaleAfter)
	r.logger.InfoContext(ctx, "Sync started", log.FieldSyncMode, mode, log.FieldCount, len(settings.AccountIDs))

	var rep Report
	switch mode {
	case ModeBackfill:
		rep, err = r.backfill(ctx)
	case ModeSameDay:
		rep, err = r.window(ctx, ModeSameDay, finmonth.StartOfDay(now))
	default:
		rep, err = r.window(ctx, ModeIncremental, settings.LastSyncTime.In(o.cfg.Location))
	}
	rep.Mode = mode
	if err != nil {
		r.logger.WarnContext(ctx, "Sync stopped", log.FieldSyncMode, mode, log.FieldError, err,
			log.FieldCompleted, r.completed, log.FieldTotal, r.total)
		return rep, err
	}
	r.logger.InfoContext(ctx, "Sync finished", log.FieldSyncMode, mode,
		log.FieldCount, rep.Saved, log.FieldFailed, rep.Failed)
	return rep, nil
}

func (r *run) report(msg string) {
	if r.hooks.Progress != nil {
		r.hooks.Progress(Progress{Completed: r.completed, Total: r.total, Message: msg})
	}
}

// checkpoint is called between units.
func (r *run) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if r.hooks.Cancelled != nil && r.hooks.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// backfill walks the lookback window one calendar month at a time, newest
// month first, saving each unit as it arrives.
func (r *run) backfill(ctx context.Context) (Report, error) {
	loc := r.o.cfg.Location
	thisMonth := time.Date(r.now.Year(), r.now.Month(), 1, 0, 0, 0, 0, loc)
	months := r.o.cfg.LookbackMonths
	r.total = months * len(r.settings.AccountIDs)
	rep := Report{Units: r.total}
	r.report("Loading transaction history")

	for m := 0; m < months; m++ {
		from := thisMonth.AddDate(0, -m, 0)
		to := from.AddDate(0, 1, 0).Add(-time.Second)
		if to.After(r.now) {
			to = r.now
		}
		for _, acc := range r.settings.AccountIDs {
			if err := r.checkpoint(ctx); err != nil {
				return rep, err
			}
			txs, err := r.fetch(ctx, acc, from, to)
			if err != nil {
				if fatal(err) {
					return rep, err
				}
				rep.Failed++
			} else if err := r.o.store.SaveTransactions(ctx, r.userID, txs); err != nil {
				return rep, err
			} else {
				rep.Saved += len(txs)
			}
			r.completed++
			r.report(fmt.Sprintf("Loaded %s for account %s", from.Format("2006-01"), acc))
		}
	}

	if rep.Failed == rep.Units && rep.Units > 0 {
		return rep, fmt.Errorf("backfill: every unit failed")
	}
	if rep.Failed > 0 {
		// History stays unloaded so the next run backfills again; saved
		// items are upserted, not duplicated.
		r.logger.WarnContext(ctx, "Partial backfill, history not marked loaded",
			log.FieldSyncMode, ModeBackfill, log.FieldFailed, rep.Failed)
		r.report("Some months could not be loaded")
		return rep, nil
	}
	oldest := thisMonth.AddDate(0, -(months - 1), 0)
	if err := r.saveSettings(ctx, map[string]string{
		ports.KeyHistoricalDataLoaded:  ports.FormatBool(true),
		ports.KeyLastSyncTime:          ports.FormatTime(r.now),
		ports.KeyHistoricalPeriodStart: ports.FormatTime(oldest),
		ports.KeyHistoricalPeriodEnd:   ports.FormatTime(r.now),
	}); err != nil {
		return rep, err
	}
	rep.SyncedAt = r.now
	r.report("History loaded")
	return rep, nil
}

// window fetches [from, now] for every account. When every unit succeeds
// the stored tail from `from` is replaced; otherwise fetched items are only
// upserted and the sync point stays put so the next run covers the gap.
func (r *run) window(ctx context.Context, mode Mode, from time.Time) (Report, error) {
	chunks := splitWindow(from, r.now, monobank.MaxStatementWindow-time.Hour)
	r.total = len(chunks) * len(r.settings.AccountIDs)
	rep := Report{Units: r.total}
	r.report("Checking for new transactions")

	var fetched []core.Transaction
	for _, c := range chunks {
		for _, acc := range r.settings.AccountIDs {
			if err := r.checkpoint(ctx); err != nil {
				return rep, err
			}
			txs, err := r.fetch(ctx, acc, c[0], c[1])
			if err != nil {
				if fatal(err) {
					return rep, err
				}
				rep.Failed++
			} else {
				fetched = append(fetched, txs...)
			}
			r.completed++
			r.report(fmt.Sprintf("Checked account %s", acc))
		}
	}

	if rep.Failed == 0 {
		if err := r.keepComments(ctx, from, fetched); err != nil {
			return rep, err
		}
		if err := r.o.store.DeleteTransactionsAfter(ctx, r.userID, from.Unix()); err != nil {
			return rep, err
		}
	}
	if err := r.o.store.SaveTransactions(ctx, r.userID, fetched); err != nil {
		return rep, err
	}
	rep.Saved = len(fetched)

	if rep.Failed > 0 {
		r.logger.WarnContext(ctx, "Partial sync, keeping previous sync point",
			log.FieldSyncMode, mode, log.FieldFailed, rep.Failed)
		r.report("Some accounts could not be refreshed")
		return rep, nil
	}
	if err := r.saveSettings(ctx, map[string]string{ports.KeyLastSyncTime: ports.FormatTime(r.now)}); err != nil {
		return rep, err
	}
	rep.SyncedAt = r.now
	r.report("Up to date")
	return rep, nil
}

// keepComments copies stored comments onto the fetched items that replace
// the tail from `from`. The bank never returns comments.
func (r *run) keepComments(ctx context.Context, from time.Time, fetched []core.Transaction) error {
	stored, err := r.o.store.Transactions(ctx, r.userID, "")
	if err != nil {
		return err
	}
	comments := make(map[string]string)
	for _, tx := range stored {
		if tx.Timestamp >= from.Unix() && tx.Comment != "" {
			comments[tx.ID] = tx.Comment
		}
	}
	for i := range fetched {
		if c, ok := comments[fetched[i].ID]; ok && fetched[i].Comment == "" {
			fetched[i].Comment = c
		}
	}
	return nil
}

func (r *run) saveSettings(ctx context.Context, kv map[string]string) error {
	for k, v := range kv {
		if err := r.o.store.SetSetting(ctx, r.userID, k, v); err != nil {
			return err
		}
	}
	return nil
}

// splitWindow cuts [from, to] into consecutive spans no longer than span.
func splitWindow(from, to time.Time, span time.Duration) [][2]time.Time {
	if !to.After(from) {
		return [][2]time.Time{{from, from}}
	}
	var out [][2]time.Time
	for start := from; start.Before(to); {
		end := start.Add(span)
		if end.After(to) {
			end = to
		}
		out = append(out, [2]time.Time{start, end})
		start = end.Add(time.Second)
	}
	return out
}

// fatal errors end the whole sync instead of skipping a unit.
func fatal(err error) bool {
	return errors.Is(err, core.ErrUnauthorized) ||
		errors.Is(err, core.ErrTokenMissing) ||
		errors.Is(err, core.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
