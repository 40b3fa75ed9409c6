package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"burnrate/internal/core"
	"burnrate/internal/log"
	"burnrate/internal/ports"
	"burnrate/internal/storage/memory"
	"burnrate/internal/syncer"
)

// scriptedSyncer reports two units and then returns err. With block set it
// waits between units until released or cancelled.
type scriptedSyncer struct {
	err     error
	block   chan struct{}
	started chan struct{}

	mu    sync.Mutex
	calls int
}

func (s *scriptedSyncer) Sync(ctx context.Context, _ string, hooks syncer.Hooks) (syncer.Report, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	hooks.Progress(syncer.Progress{Completed: 1, Total: 2, Message: "unit one"})
	if s.started != nil {
		close(s.started)
	}
wait:
	for s.block != nil {
		if hooks.Cancelled() {
			return syncer.Report{}, syncer.ErrCancelled
		}
		select {
		case <-s.block:
			break wait
		case <-ctx.Done():
			return syncer.Report{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	hooks.Progress(syncer.Progress{Completed: 2, Total: 2, Message: "unit two"})
	return syncer.Report{Mode: syncer.ModeIncremental, Units: 2}, s.err
}

func TestSyncRunPersistsProgress(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	inv := &countingInvalidator{}
	svc := NewSyncService(&scriptedSyncer{}, store, inv, nil)

	rep, err := svc.Run(ctx, "u1")
	if err != nil || rep.Units != 2 {
		t.Fatalf("Run() = %+v, %v", rep, err)
	}
	p, _ := svc.Progress(ctx, "u1")
	if p.Running || p.Completed != 2 || p.Total != 2 || p.Message != "Sync finished" || p.Error != "" {
		t.Errorf("progress = %+v", p)
	}
	if inv.n != 1 {
		t.Errorf("invalidations = %d, want 1", inv.n)
	}
}

// storeBreakingSyncer makes the store reject writes once the sync is done.
type storeBreakingSyncer struct{ store *memory.Store }

func (s storeBreakingSyncer) Sync(context.Context, string, syncer.Hooks) (syncer.Report, error) {
	s.store.FailOn("SetSetting", errors.New("disk full"))
	return syncer.Report{Units: 1}, nil
}

func TestSyncRunLogsLostBookkeeping(t *testing.T) {
	store := memory.New()
	var buf bytes.Buffer
	svc := NewSyncService(storeBreakingSyncer{store: store}, store, nil, log.New(log.Config{Output: &buf}))

	rep, err := svc.Run(context.Background(), "u1")
	if err != nil || rep.Units != 1 {
		t.Fatalf("Run() = %+v, %v", rep, err)
	}
	out := buf.String()
	for _, want := range []string{"failed to save sync progress", "failed to clear cancel flag", "disk full"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestSyncRunRecordsFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewSyncService(&scriptedSyncer{err: core.ErrUnauthorized}, store, nil, nil)

	if _, err := svc.Run(ctx, "u1"); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("Run() err = %v", err)
	}
	p, _ := svc.Progress(ctx, "u1")
	if p.Running || p.Message != "Sync failed" || p.Error == "" {
		t.Errorf("progress = %+v", p)
	}
}

func TestSyncStartIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := &scriptedSyncer{block: make(chan struct{}), started: make(chan struct{})}
	svc := NewSyncService(s, memory.New(), nil, nil)

	if err := svc.Start(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	<-s.started
	if err := svc.Start(ctx, "u1"); !errors.Is(err, core.ErrSyncInProgress) {
		t.Errorf("second Start() err = %v", err)
	}
	if _, err := svc.Run(ctx, "u1"); !errors.Is(err, core.ErrSyncInProgress) {
		t.Errorf("Run() during Start err = %v", err)
	}
	if err := svc.RequestSync(ctx, "u1", "test"); err != nil {
		t.Errorf("RequestSync() should swallow a running sync, got %v", err)
	}

	p, _ := svc.Progress(ctx, "u1")
	if !p.Running || p.Completed != 1 {
		t.Errorf("mid-run progress = %+v", p)
	}

	close(s.block)
	shutdown, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdown); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls != 1 {
		t.Errorf("syncer ran %d times, want 1", s.calls)
	}
}

func TestSyncSeesOtherProcess(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	svc := NewSyncService(&scriptedSyncer{}, store, nil, nil)
	svc.SetClock(func() time.Time { return now })

	_ = ports.SaveProgress(ctx, store, "u1", ports.Progress{Running: true, UpdatedAt: now.Add(-time.Minute)})
	if err := svc.Start(ctx, "u1"); !errors.Is(err, core.ErrSyncInProgress) {
		t.Errorf("Start() with live remote progress err = %v", err)
	}

	_ = ports.SaveProgress(ctx, store, "u1", ports.Progress{Running: true, UpdatedAt: now.Add(-time.Hour)})
	if _, err := svc.Run(ctx, "u1"); err != nil {
		t.Errorf("stale progress should not block: %v", err)
	}
}

func TestSyncCancel(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := &scriptedSyncer{block: make(chan struct{}), started: make(chan struct{})}
	svc := NewSyncService(s, store, nil, nil)

	if err := svc.Cancel(ctx, "u1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Cancel() with nothing running err = %v", err)
	}
	if err := svc.Start(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	<-s.started
	if err := svc.Cancel(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	shutdown, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	svc.wg.Wait()
	_ = svc.Shutdown(shutdown)

	p, _ := svc.Progress(ctx, "u1")
	if p.Running || p.Message != "Sync cancelled" || p.Completed != 1 {
		t.Errorf("progress = %+v", p)
	}
	if v, _, _ := store.Setting(ctx, "u1", ports.KeySyncCancel); v != "false" {
		t.Errorf("cancel flag = %q, want reset", v)
	}
}

func TestQueuedSyncStart(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	req := &recordingRequester{fail: map[string]bool{"down": true}}
	q := NewQueuedSync(store, req, nil)

	if err := q.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(req.ids) != 1 || req.ids[0] != "u1" {
		t.Fatalf("published %v, want [u1]", req.ids)
	}
	p, _ := q.Progress(ctx, "u1")
	if p.Running || p.Message != "Sync queued" {
		t.Errorf("progress = %+v, want queued and not running", p)
	}

	_ = ports.SaveProgress(ctx, store, "busy", ports.Progress{Running: true, UpdatedAt: time.Now()})
	if err := q.Start(ctx, "busy"); !errors.Is(err, core.ErrSyncInProgress) {
		t.Errorf("Start() on live sync error = %v, want ErrSyncInProgress", err)
	}

	if err := q.Start(ctx, "down"); err == nil {
		t.Error("Start() should fail when the queue is down")
	}
}
