package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"burnrate/internal/core"
	"burnrate/internal/log"
	"burnrate/internal/ports"
	"burnrate/internal/syncer"
)

// progressHeartbeat is how long a persisted running progress counts as
// live. A backfill unit takes about two minutes at worst.
const progressHeartbeat = 10 * time.Minute

// Syncer runs one sync for a user.
type Syncer interface {
	Sync(ctx context.Context, userID string, hooks syncer.Hooks) (syncer.Report, error)
}

// SyncService runs syncs for users, at most one per user, and keeps their
// progress in the settings store so every process can read it.
type SyncService struct {
	syncer      Syncer
	store       ports.SettingsStore
	invalidator Invalidator
	logger      *log.Logger
	now         func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running map[string]bool
}

func NewSyncService(s Syncer, store ports.SettingsStore, invalidator Invalidator, logger *log.Logger) *SyncService {
	if logger == nil {
		logger = log.Nop()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &SyncService{
		syncer:      s,
		store:       store,
		invalidator: invalidator,
		logger:      logger.WithComponent(log.ComponentSync),
		now:         time.Now,
		baseCtx:     ctx,
		stop:        stop,
		running:     map[string]bool{},
	}
}

// SetClock replaces time.Now.
func (s *SyncService) SetClock(now func() time.Time) { s.now = now }

func (s *SyncService) claim(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[userID] {
		return false
	}
	s.running[userID] = true
	return true
}

func (s *SyncService) release(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, userID)
}

func (s *SyncService) isRunning(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[userID]
}

// runningElsewhere reports a live sync recorded by another process.
func (s *SyncService) runningElsewhere(ctx context.Context, userID string) (bool, error) {
	p, err := ports.LoadProgress(ctx, s.store, userID)
	if err != nil {
		return false, err
	}
	return p.Running && s.now().Sub(p.UpdatedAt) < progressHeartbeat, nil
}

// Start launches a sync in the background.
func (s *SyncService) Start(ctx context.Context, userID string) error {
	if !s.claim(userID) {
		return core.ErrSyncInProgress
	}
	busy, err := s.runningElsewhere(ctx, userID)
	if err != nil || busy {
		s.release(userID)
		if err != nil {
			return err
		}
		return core.ErrSyncInProgress
	}
	if err := s.saveProgress(ctx, userID, ports.Progress{Running: true, Message: "Sync queued"}); err != nil {
		s.release(userID)
		return err
	}

	reqLogger := log.FromContext(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(userID)
		bg := log.NewContext(s.baseCtx, reqLogger)
		if _, err := s.run(bg, userID); err != nil {
			s.logger.WarnContext(bg, "background sync failed", log.FieldUserID, userID, log.FieldError, err)
		}
	}()
	return nil
}

// Run syncs in the caller's goroutine.
func (s *SyncService) Run(ctx context.Context, userID string) (syncer.Report, error) {
	if !s.claim(userID) {
		return syncer.Report{}, core.ErrSyncInProgress
	}
	defer s.release(userID)
	busy, err := s.runningElsewhere(ctx, userID)
	if err != nil {
		return syncer.Report{}, err
	}
	if busy {
		return syncer.Report{}, core.ErrSyncInProgress
	}
	return s.run(ctx, userID)
}

// RequestSync starts a sync unless one is already running.
func (s *SyncService) RequestSync(ctx context.Context, userID, reason string) error {
	err := s.Start(ctx, userID)
	if errors.Is(err, core.ErrSyncInProgress) {
		s.logger.DebugContext(ctx, "sync already running", log.FieldUserID, userID, log.FieldReason, reason)
		return nil
	}
	return err
}

func (s *SyncService) run(ctx context.Context, userID string) (syncer.Report, error) {
	if err := s.store.SetSetting(ctx, userID, ports.KeySyncCancel, ports.FormatBool(false)); err != nil {
		return syncer.Report{}, fmt.Errorf("reset cancel flag: %w", err)
	}

	var last syncer.Progress
	hooks := syncer.Hooks{
		Progress: func(p syncer.Progress) {
			last = p
			if err := s.saveProgress(ctx, userID, ports.Progress{
				Running: true, Completed: p.Completed, Total: p.Total, Message: p.Message,
			}); err != nil {
				s.logger.WarnContext(ctx, "failed to save sync progress", log.FieldUserID, userID, log.FieldError, err)
			}
		},
		Cancelled: func() bool {
			v, _, err := s.store.Setting(ctx, userID, ports.KeySyncCancel)
			if err != nil {
				s.logger.WarnContext(ctx, "failed to read cancel flag", log.FieldUserID, userID, log.FieldError, err)
				return false
			}
			return v == "true"
		},
	}
	if err := s.saveProgress(ctx, userID, ports.Progress{Running: true, Message: "Sync started"}); err != nil {
		s.logger.WarnContext(ctx, "failed to save sync progress", log.FieldUserID, userID, log.FieldError, err)
	}

	rep, err := s.syncer.Sync(ctx, userID, hooks)

	final := ports.Progress{Completed: last.Completed, Total: last.Total}
	switch {
	case errors.Is(err, syncer.ErrCancelled):
		final.Message = "Sync cancelled"
	case err != nil:
		final.Message = "Sync failed"
		final.Error = err.Error()
	default:
		final.Message = "Sync finished"
	}
	// The run context may be cancelled by shutdown; the final state still has to land.
	done := context.WithoutCancel(ctx)
	if serr := s.saveProgress(done, userID, final); serr != nil {
		s.logger.WarnContext(done, "failed to save sync progress", log.FieldUserID, userID, log.FieldError, serr)
	}
	if serr := s.store.SetSetting(done, userID, ports.KeySyncCancel, ports.FormatBool(false)); serr != nil {
		s.logger.WarnContext(done, "failed to clear cancel flag", log.FieldUserID, userID, log.FieldError, serr)
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(userID)
	}
	return rep, err
}

func (s *SyncService) saveProgress(ctx context.Context, userID string, p ports.Progress) error {
	p.UpdatedAt = s.now()
	return ports.SaveProgress(ctx, s.store, userID, p)
}

// Cancel asks a running sync to stop before its next unit of work.
func (s *SyncService) Cancel(ctx context.Context, userID string) error {
	busy, err := s.runningElsewhere(ctx, userID)
	if err != nil {
		return err
	}
	if !busy && !s.isRunning(userID) {
		return fmt.Errorf("no sync running: %w", core.ErrNotFound)
	}
	if err := s.store.SetSetting(ctx, userID, ports.KeySyncCancel, ports.FormatBool(true)); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "sync cancellation requested", log.FieldUserID, userID)
	return nil
}

func (s *SyncService) Progress(ctx context.Context, userID string) (ports.Progress, error) {
	return ports.LoadProgress(ctx, s.store, userID)
}

// Shutdown stops background syncs and waits for them until ctx ends.
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueuedSync hands manual syncs to the worker queue. Cancel and Progress go
// through the shared settings store like the in-process service.
type QueuedSync struct {
	*SyncService
	requester SyncRequester
}

func NewQueuedSync(store ports.SettingsStore, requester SyncRequester, logger *log.Logger) *QueuedSync {
	return &QueuedSync{
		SyncService: NewSyncService(nil, store, nil, logger),
		requester:   requester,
	}
}

// Start publishes a sync request unless a sync is already live somewhere.
// The progress is left not running so the worker can claim it.
func (q *QueuedSync) Start(ctx context.Context, userID string) error {
	busy, err := q.runningElsewhere(ctx, userID)
	if err != nil {
		return err
	}
	if busy {
		return core.ErrSyncInProgress
	}
	if err := q.requester.RequestSync(ctx, userID, "manual"); err != nil {
		return fmt.Errorf("queue sync: %w", err)
	}
	return q.saveProgress(ctx, userID, ports.Progress{Message: "Sync queued"})
}
