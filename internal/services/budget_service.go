package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"burnrate/internal/budget"
	"burnrate/internal/cache"
	"burnrate/internal/categories"
	"burnrate/internal/classifier"
	"burnrate/internal/core"
	"burnrate/internal/currency"
	"burnrate/internal/finmonth"
	"burnrate/internal/log"
	"burnrate/internal/ports"
)

type BudgetConfig struct {
	Location  *time.Location
	CacheTTL  time.Duration
	CacheSize int
}

func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		Location:  time.UTC,
		CacheTTL:  30 * time.Second,
		CacheSize: 256,
	}
}

// Exporter writes a computed month somewhere outside the store.
type Exporter interface {
	ExportMonth(ctx context.Context, userID string, mb core.MonthBudget) (string, error)
}

// BudgetService reads a user's data from the store, runs the distribution
// engine over it and keeps elapsed days pinned as snapshots.
type BudgetService struct {
	store      ports.Store
	rates      currency.Source
	classifier *classifier.Classifier
	engine     *budget.Engine
	resolver   *categories.Resolver
	exporter   Exporter
	cfg        BudgetConfig
	logger     *log.Logger
	now        func() time.Time

	months    *cache.LRUCache[core.MonthBudget]
	overrides *cache.LRUCache[core.Overrides]
}

func NewBudgetService(store ports.Store, rates currency.Source, rules *categories.Engine, cfg BudgetConfig, logger *log.Logger) *BudgetService {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultBudgetConfig().CacheSize
	}
	if rules == nil {
		rules = categories.MustLoadEmbedded()
	}
	c := classifier.New(rules)
	return &BudgetService{
		store:      store,
		rates:      rates,
		classifier: c,
		engine:     budget.NewEngine(c, logger),
		resolver:   categories.NewResolver(rules),
		cfg:        cfg,
		logger:     logger.WithComponent(log.ComponentBudget),
		now:        time.Now,
		months:     cache.NewLRUCache[core.MonthBudget](cfg.CacheSize, cfg.CacheTTL),
		overrides:  cache.NewLRUCache[core.Overrides](cfg.CacheSize, cfg.CacheTTL),
	}
}

// SetClock replaces time.Now.
func (s *BudgetService) SetClock(now func() time.Time) { s.now = now }

func (s *BudgetService) SetExporter(e Exporter) { s.exporter = e }

// Caches exposes the service caches for the periodic sweep.
func (s *BudgetService) Caches() []cache.Cleaner {
	return []cache.Cleaner{s.months, s.overrides}
}

// Invalidate drops every cached value of a user.
func (s *BudgetService) Invalidate(userID string) {
	s.months.DeletePrefix(userID + "|")
	s.overrides.Delete(userID)
}

// monthInput is the loaded state one computation runs over.
type monthInput struct {
	settings core.UserSettings
	in       budget.Input
	conv     *currency.Converter
}

func (s *BudgetService) load(ctx context.Context, userID string, anchor time.Time, skipHistorical bool) (monthInput, error) {
	settings, err := ports.LoadUserSettings(ctx, s.store, userID)
	if err != nil {
		return monthInput{}, fmt.Errorf("load settings: %w", err)
	}
	if err := finmonth.ValidateStartDay(settings.FinancialMonthStartDay); err != nil {
		return monthInput{}, err
	}

	txs, err := s.transactions(ctx, userID, settings)
	if err != nil {
		return monthInput{}, err
	}
	overrides, err := s.overridesFor(ctx, userID)
	if err != nil {
		return monthInput{}, err
	}

	rates, err := s.rates.CurrencyRates(ctx)
	if err != nil {
		// Amounts fall back to unconverted values and the month is flagged approximate.
		s.logger.WarnContext(ctx, "exchange rates unavailable", log.FieldUserID, userID, log.FieldError, err)
		rates = nil
	}
	conv := currency.NewConverter(rates, s.logger)

	start, end := finmonth.Bounds(anchor.In(s.cfg.Location), settings.FinancialMonthStartDay)
	snaps, err := s.store.DailyBudgets(ctx, userID, start, end)
	if err != nil {
		return monthInput{}, fmt.Errorf("load snapshots: %w", err)
	}

	seed, err := s.totalBudgetSeed(ctx, userID)
	if err != nil {
		return monthInput{}, err
	}

	return monthInput{
		settings: settings,
		conv:     conv,
		in: budget.Input{
			UserID:               userID,
			AvailableBalance:     availableBalance(txs, conv),
			Anchor:               anchor,
			Now:                  s.now(),
			Location:             s.cfg.Location,
			Transactions:         txs,
			Rates:                rates,
			Overrides:            overrides,
			TotalBudgetSeed:      seed,
			AIMode:               settings.AIBudget,
			StartDay:             settings.FinancialMonthStartDay,
			SkipHistoricalLimits: skipHistorical,
			Snapshots:            snaps,
		},
	}, nil
}

// transactions returns the history of the selected accounts with the
// account currency filled in.
func (s *BudgetService) transactions(ctx context.Context, userID string, settings core.UserSettings) ([]core.Transaction, error) {
	all, err := s.store.Transactions(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	selected := make(map[string]bool, len(settings.AccountIDs))
	for _, id := range settings.AccountIDs {
		selected[id] = true
	}
	out := make([]core.Transaction, 0, len(all))
	for _, tx := range all {
		if len(selected) > 0 && tx.AccountID != "" && !selected[tx.AccountID] {
			continue
		}
		if tx.CurrencyCode == 0 {
			if c, ok := settings.AccountCurrency(tx.AccountID); ok {
				tx.CurrencyCode = c
			}
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *BudgetService) totalBudgetSeed(ctx context.Context, userID string) (int64, error) {
	v, ok, err := s.store.Setting(ctx, userID, ports.KeyTotalBudget)
	if err != nil || !ok || v == "" {
		return 0, err
	}
	seed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %s: %w", ports.KeyTotalBudget, err)
	}
	return seed, nil
}

// availableBalance sums the latest known balance of every account, in UAH.
func availableBalance(txs []core.Transaction, conv *currency.Converter) int64 {
	latest := make(map[string]core.Transaction)
	for _, tx := range txs {
		if cur, ok := latest[tx.AccountID]; !ok || tx.Timestamp > cur.Timestamp {
			latest[tx.AccountID] = tx
		}
	}
	var total int64
	for _, tx := range latest {
		v, _ := conv.ToUAH(tx.BalanceAfter, tx.Currency())
		total += v
	}
	return total
}

func monthKey(userID string, start time.Time, skip bool) string {
	return fmt.Sprintf("%s|%s|%t", userID, start.Format(time.DateOnly), skip)
}

// Month computes the financial month containing anchor. Elapsed days that
// have no snapshot yet get one.
func (s *BudgetService) Month(ctx context.Context, userID string, anchor time.Time, skipHistorical bool) (core.MonthBudget, error) {
	settings, err := ports.LoadUserSettings(ctx, s.store, userID)
	if err != nil {
		return core.MonthBudget{}, fmt.Errorf("load settings: %w", err)
	}
	start, _ := finmonth.Bounds(anchor.In(s.cfg.Location), settings.FinancialMonthStartDay)
	key := monthKey(userID, start, skipHistorical)
	if mb, ok := s.months.Get(key); ok {
		return mb, nil
	}

	mi, err := s.load(ctx, userID, anchor, skipHistorical)
	if err != nil {
		return core.MonthBudget{}, err
	}
	res := s.engine.Distribute(mi.in)
	if mi.conv.Misses() > 0 {
		res.Budget.Approximate = true
	}

	if _, err := s.persistSnapshots(ctx, userID, res.Snapshots, mi.in.Snapshots, false); err != nil {
		s.logger.WarnContext(ctx, "failed to persist daily snapshots",
			log.FieldUserID, userID,
			log.FieldMonthStart, start.Format(time.DateOnly),
			log.FieldError, err)
	}

	s.months.Set(key, res.Budget)
	return res.Budget, nil
}

// SaveSnapshots reconstructs the elapsed days of a month and stores them.
// Without force, existing snapshots are kept.
func (s *BudgetService) SaveSnapshots(ctx context.Context, userID string, anchor time.Time, force bool) (int, error) {
	mi, err := s.load(ctx, userID, anchor, true)
	if err != nil {
		return 0, err
	}
	res := s.engine.Distribute(mi.in)
	existing := mi.in.Snapshots
	if force {
		existing = nil
	}
	n, err := s.persistSnapshots(ctx, userID, res.Snapshots, existing, force)
	if err != nil {
		return n, err
	}
	s.months.DeletePrefix(userID + "|")

	s.logger.InfoContext(ctx, "daily snapshots saved",
		log.FieldUserID, userID,
		log.FieldOperation, log.OpSnapshot,
		log.FieldCount, n)
	return n, nil
}

func (s *BudgetService) persistSnapshots(ctx context.Context, userID string, fresh, existing []core.StoredDailyBudget, overwrite bool) (int, error) {
	have := make(map[string]bool, len(existing))
	for _, e := range existing {
		have[e.Date.In(s.cfg.Location).Format(time.DateOnly)] = true
	}
	saved := 0
	for _, snap := range fresh {
		if have[snap.Date.Format(time.DateOnly)] {
			continue
		}
		ok, err := s.store.SaveDailyBudget(ctx, userID, snap, overwrite)
		if err != nil {
			return saved, err
		}
		if ok {
			saved++
		}
	}
	return saved, nil
}

// Categories sums the month's expenses per resolved category.
func (s *BudgetService) Categories(ctx context.Context, userID string, anchor time.Time) ([]categories.Total, error) {
	mb, err := s.Month(ctx, userID, anchor, false)
	if err != nil {
		return nil, err
	}
	custom, err := s.store.CustomCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	assignments, err := s.store.CategoryAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	rates, err := s.rates.CurrencyRates(ctx)
	if err != nil {
		rates = nil
	}
	conv := currency.NewConverter(rates, s.logger)

	var txs []core.Transaction
	amounts := make(map[string]int64)
	for _, day := range mb.DailyLimits {
		for _, tx := range day.Transactions {
			v, _ := conv.ToUAH(tx.Amount, tx.Currency())
			txs = append(txs, tx)
			amounts[tx.ID] = -v
		}
	}
	return s.resolver.Summarize(txs, amounts, assignments, custom), nil
}

// TransactionView is a stored transaction with how the budget treats it.
type TransactionView struct {
	core.Transaction
	Expense  bool            `json:"expense"`
	Reason   string          `json:"reason,omitempty"`
	Category categories.Info `json:"category"`
}

// Transactions lists the selected accounts' transactions in [from, to], newest first.
func (s *BudgetService) Transactions(ctx context.Context, userID string, from, to time.Time) ([]TransactionView, error) {
	if to.Before(from) {
		return nil, core.NewValidationError("to", "must not be before from")
	}
	settings, err := ports.LoadUserSettings(ctx, s.store, userID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	txs, err := s.transactions(ctx, userID, settings)
	if err != nil {
		return nil, err
	}
	overrides, err := s.overridesFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	custom, err := s.store.CustomCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	assignments, err := s.store.CategoryAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}

	index := s.classifier.Index(txs)
	out := []TransactionView{}
	for _, tx := range txs {
		if tx.Timestamp < from.Unix() || tx.Timestamp > to.Unix() {
			continue
		}
		reason := index.Classify(tx, overrides)
		out = append(out, TransactionView{
			Transaction: tx,
			Expense:     reason == classifier.ReasonNone,
			Reason:      string(reason),
			Category:    s.resolver.Resolve(tx, assignments, custom),
		})
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(v []TransactionView) {
	sort.SliceStable(v, func(i, j int) bool { return v[i].Timestamp > v[j].Timestamp })
}

// UpdateComment sets the note on a transaction. An empty comment clears it.
func (s *BudgetService) UpdateComment(ctx context.Context, userID, txID, comment string) error {
	comment = cleanText(comment)
	if len([]rune(comment)) > core.MaxCommentLength {
		return core.NewValidationError("comment", fmt.Sprintf("longer than %d characters", core.MaxCommentLength))
	}
	if err := s.store.UpdateComment(ctx, userID, txID, comment); err != nil {
		return err
	}
	s.months.DeletePrefix(userID + "|")
	return nil
}

// AssignCategory pins a transaction to a category key.
func (s *BudgetService) AssignCategory(ctx context.Context, userID, txID, key string) error {
	key = strings.TrimSpace(key)
	custom, err := s.store.CustomCategories(ctx, userID)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	if !categories.Known(key, custom) {
		return fmt.Errorf("%w: %w", core.NewValidationError("categoryKey", "unknown category "+key), core.ErrUnknownCategory)
	}
	if err := s.requireTransaction(ctx, userID, txID); err != nil {
		return err
	}
	return s.store.AssignCategory(ctx, userID, txID, key)
}

func (s *BudgetService) UnassignCategory(ctx context.Context, userID, txID string) error {
	return s.store.UnassignCategory(ctx, userID, txID)
}

func (s *BudgetService) requireTransaction(ctx context.Context, userID, txID string) error {
	txs, err := s.store.Transactions(ctx, userID, "")
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	for _, tx := range txs {
		if tx.ID == txID {
			return nil
		}
	}
	return fmt.Errorf("transaction %s: %w", txID, core.ErrNotFound)
}

// Export writes the month containing anchor through the configured exporter.
func (s *BudgetService) Export(ctx context.Context, userID string, anchor time.Time) (string, error) {
	if s.exporter == nil {
		return "", fmt.Errorf("month export not configured: %w", core.ErrNotFound)
	}
	mb, err := s.Month(ctx, userID, anchor, false)
	if err != nil {
		return "", err
	}
	ref, err := s.exporter.ExportMonth(ctx, userID, mb)
	if err != nil {
		return "", fmt.Errorf("export month: %w", err)
	}
	s.logger.InfoContext(ctx, "month exported",
		log.FieldUserID, userID,
		log.FieldOperation, log.OpExport,
		log.FieldMonthStart, mb.MonthStart.Format(time.DateOnly))
	return ref, nil
}
