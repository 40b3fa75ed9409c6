package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"burnrate/internal/amqp"
	"burnrate/internal/core"
	"burnrate/internal/ports"
	"burnrate/internal/storage/memory"
	"burnrate/internal/syncer"
)

type fakeRunner struct {
	err   error
	users []string
}

func (f *fakeRunner) Run(_ context.Context, userID string) (syncer.Report, error) {
	f.users = append(f.users, userID)
	return syncer.Report{Mode: syncer.ModeSameDay}, f.err
}

func TestHandleSyncRequest(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantErr  bool
		wantDrop bool
	}{
		{"success", nil, false, false},
		{"already running", core.ErrSyncInProgress, false, false},
		{"token rejected", core.ErrUnauthorized, true, true},
		{"no token", core.ErrTokenMissing, true, true},
		{"no accounts", core.NewValidationError("accountIds", "none"), true, true},
		{"cancelled", syncer.ErrCancelled, true, true},
		{"store down", core.StoreError("Transactions", errors.New("locked")), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{err: tt.err}
			w := NewSyncWorker(r, memory.New(), nil)
			err := w.HandleSyncRequest(context.Background(), amqp.NewSyncRequestMessage("u1", "manual"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, amqp.ErrDrop) != tt.wantDrop {
				t.Errorf("drop = %v, want %v", errors.Is(err, amqp.ErrDrop), tt.wantDrop)
			}
			if len(r.users) != 1 || r.users[0] != "u1" {
				t.Errorf("runner users = %v", r.users)
			}
		})
	}
}

func TestResetStaleProgress(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	_ = ports.SaveProgress(ctx, store, "stale", ports.Progress{Running: true, Completed: 3, Total: 24, UpdatedAt: now.Add(-time.Hour)})
	_ = ports.SaveProgress(ctx, store, "live", ports.Progress{Running: true, UpdatedAt: now.Add(-time.Minute)})
	_ = ports.SaveProgress(ctx, store, "done", ports.Progress{Message: "Sync finished", UpdatedAt: now.Add(-time.Hour)})

	w := NewSyncWorker(&fakeRunner{}, store, nil)
	w.now = func() time.Time { return now }

	n, err := w.ResetStaleProgress(ctx, 10*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("ResetStaleProgress() = %d, %v; want 1", n, err)
	}
	p, _ := ports.LoadProgress(ctx, store, "stale")
	if p.Running || p.Message != "Sync interrupted" || p.Completed != 3 {
		t.Errorf("stale progress = %+v", p)
	}
	if p, _ := ports.LoadProgress(ctx, store, "live"); !p.Running {
		t.Error("live progress must be left alone")
	}
}
