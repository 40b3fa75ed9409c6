package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"burnrate/internal/log"
	"burnrate/internal/ports"
)

// SyncRequester asks for a sync of one user, in process or over a queue.
type SyncRequester interface {
	RequestSync(ctx context.Context, userID, reason string) error
}

type RevalidatorConfig struct {
	// Interval between passes, randomized by up to ±Jitter.
	Interval time.Duration
	Jitter   time.Duration
}

func DefaultRevalidatorConfig() RevalidatorConfig {
	return RevalidatorConfig{
		Interval: 15 * time.Minute,
		Jitter:   2 * time.Minute,
	}
}

// Revalidator periodically requests a sync for every user with a token.
type Revalidator struct {
	store     ports.SettingsStore
	requester SyncRequester
	config    RevalidatorConfig
	logger    *log.Logger
	jitter    func(n int64) int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRevalidator(store ports.SettingsStore, requester SyncRequester, config RevalidatorConfig, logger *log.Logger) *Revalidator {
	if logger == nil {
		logger = log.Nop()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultRevalidatorConfig().Interval
	}
	if config.Jitter < 0 || config.Jitter >= config.Interval {
		config.Jitter = 0
	}
	return &Revalidator{
		store:     store,
		requester: requester,
		config:    config,
		logger:    logger.WithComponent(log.ComponentRevalidate),
		jitter:    rand.Int63n,
	}
}

// Start begins the loop. Returns an error if already running.
func (r *Revalidator) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("revalidator is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.runLoop(ctx)

	r.logger.InfoContext(ctx, "Revalidator started",
		"interval", r.config.Interval,
		"jitter", r.config.Jitter)
	return nil
}

// Stop signals the loop and waits for it to finish.
func (r *Revalidator) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		r.logger.InfoContext(ctx, "Revalidator stopped gracefully")
	case <-ctx.Done():
		r.logger.WarnContext(ctx, "Revalidator stop timed out")
		return ctx.Err()
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

func (r *Revalidator) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// next returns the wait before the following pass.
func (r *Revalidator) next() time.Duration {
	if r.config.Jitter <= 0 {
		return r.config.Interval
	}
	j := int64(r.config.Jitter)
	return r.config.Interval + time.Duration(r.jitter(2*j+1)-j)
}

func (r *Revalidator) runLoop(ctx context.Context) {
	defer close(r.doneCh)

	timer := time.NewTimer(r.next())
	defer timer.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Revalidation pass failed", log.FieldError, err)
			}
			timer.Reset(r.next())
		}
	}
}

// RunOnce requests a sync for every user that has a token and accounts.
// It returns how many requests were made.
func (r *Revalidator) RunOnce(ctx context.Context) (int, error) {
	ids, err := r.store.UserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		ok, err := r.eligible(ctx, id)
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to read user settings", log.FieldUserID, id, log.FieldError, err)
			continue
		}
		if !ok {
			continue
		}
		if err := r.requester.RequestSync(ctx, id, "revalidate"); err != nil {
			r.logger.WarnContext(ctx, "Sync request failed", log.FieldUserID, id, log.FieldError, err)
			continue
		}
		n++
	}
	r.logger.DebugContext(ctx, "Revalidation pass done", log.FieldCount, n, log.FieldTotal, len(ids))
	return n, nil
}

func (r *Revalidator) eligible(ctx context.Context, userID string) (bool, error) {
	token, _, err := r.store.Setting(ctx, userID, ports.KeyToken)
	if err != nil || token == "" {
		return false, err
	}
	accounts, _, err := r.store.Setting(ctx, userID, ports.KeyAccountIDs)
	return accounts != "", err
}
