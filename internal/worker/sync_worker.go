// Package worker runs queued sync requests.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"burnrate/internal/amqp"
	"burnrate/internal/core"
	"burnrate/internal/log"
	"burnrate/internal/ports"
	"burnrate/internal/syncer"
)

// Runner runs one sync in the caller's goroutine.
type Runner interface {
	Run(ctx context.Context, userID string) (syncer.Report, error)
}

type SyncWorker struct {
	runner Runner
	store  ports.SettingsStore
	logger *log.Logger
	now    func() time.Time
}

func NewSyncWorker(runner Runner, store ports.SettingsStore, logger *log.Logger) *SyncWorker {
	if logger == nil {
		logger = log.Nop()
	}
	return &SyncWorker{
		runner: runner,
		store:  store,
		logger: logger.WithComponent(log.ComponentWorker),
		now:    time.Now,
	}
}

// HandleSyncRequest runs the requested sync. Errors that a retry cannot fix
// are marked with amqp.ErrDrop.
func (w *SyncWorker) HandleSyncRequest(ctx context.Context, msg *amqp.SyncRequestMessage) error {
	logger := w.logger.WithUser(msg.UserID)
	start := w.now()

	rep, err := w.runner.Run(ctx, msg.UserID)
	switch {
	case err == nil:
		logger.InfoContext(ctx, "Sync request completed",
			log.FieldSyncMode, rep.Mode,
			log.FieldCount, rep.Saved,
			log.FieldFailed, rep.Failed,
			log.FieldDuration, w.now().Sub(start).Milliseconds())
		return nil
	case errors.Is(err, core.ErrSyncInProgress):
		logger.InfoContext(ctx, "Sync already running, request absorbed")
		return nil
	case permanent(err):
		return fmt.Errorf("%w: %w", amqp.ErrDrop, err)
	default:
		return err
	}
}

func permanent(err error) bool {
	return core.IsValidation(err) ||
		errors.Is(err, core.ErrUnauthorized) ||
		errors.Is(err, core.ErrTokenMissing) ||
		errors.Is(err, syncer.ErrCancelled)
}

// ResetStaleProgress clears progress records left running by a process
// that died mid-sync. It returns how many were reset.
func (w *SyncWorker) ResetStaleProgress(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := w.store.UserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	n := 0
	for _, id := range ids {
		p, err := ports.LoadProgress(ctx, w.store, id)
		if err != nil {
			w.logger.WarnContext(ctx, "Failed to read sync progress", log.FieldUserID, id, log.FieldError, err)
			continue
		}
		if !p.Running || w.now().Sub(p.UpdatedAt) < olderThan {
			continue
		}
		p.Running = false
		p.Message = "Sync interrupted"
		p.UpdatedAt = w.now()
		if err := ports.SaveProgress(ctx, w.store, id, p); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "Reset stale sync progress", log.FieldCount, n)
	}
	return n, nil
}
