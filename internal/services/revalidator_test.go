package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"burnrate/internal/ports"
	"burnrate/internal/storage/memory"
)

type recordingRequester struct {
	mu   sync.Mutex
	ids  []string
	fail map[string]bool
}

func (r *recordingRequester) RequestSync(_ context.Context, userID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[userID] {
		return errors.New("queue down")
	}
	r.ids = append(r.ids, userID)
	return nil
}

func TestRevalidatorRunOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_ = store.SetSetting(ctx, "ready", ports.KeyToken, "sealed")
	_ = store.SetSetting(ctx, "ready", ports.KeyAccountIDs, "a")
	_ = store.SetSetting(ctx, "no-accounts", ports.KeyToken, "sealed")
	_ = store.SetSetting(ctx, "no-token", ports.KeyAccountIDs, "a")
	_ = store.SetSetting(ctx, "failing", ports.KeyToken, "sealed")
	_ = store.SetSetting(ctx, "failing", ports.KeyAccountIDs, "a")

	req := &recordingRequester{fail: map[string]bool{"failing": true}}
	r := NewRevalidator(store, req, DefaultRevalidatorConfig(), nil)

	n, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(req.ids) != 1 || req.ids[0] != "ready" {
		t.Errorf("RunOnce() = %d, requested %v", n, req.ids)
	}
}

func TestRevalidatorJitter(t *testing.T) {
	cfg := RevalidatorConfig{Interval: 10 * time.Minute, Jitter: time.Minute}
	r := NewRevalidator(memory.New(), &recordingRequester{}, cfg, nil)

	r.jitter = func(int64) int64 { return 0 }
	if got := r.next(); got != 9*time.Minute {
		t.Errorf("lowest next() = %v, want 9m", got)
	}
	r.jitter = func(n int64) int64 { return n - 1 }
	if got := r.next(); got != 11*time.Minute {
		t.Errorf("highest next() = %v, want 11m", got)
	}

	r = NewRevalidator(memory.New(), &recordingRequester{}, RevalidatorConfig{Interval: time.Minute, Jitter: time.Hour}, nil)
	if got := r.next(); got != time.Minute {
		t.Errorf("jitter wider than interval should be ignored, next() = %v", got)
	}
}

func TestRevalidatorLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewRevalidator(memory.New(), &recordingRequester{}, RevalidatorConfig{Interval: time.Millisecond}, nil)
	if r.IsRunning() {
		t.Fatal("should not run before Start")
	}
	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop() before Start err = %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	time.Sleep(10 * time.Millisecond)
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if r.IsRunning() {
		t.Error("still running after Stop")
	}
}
