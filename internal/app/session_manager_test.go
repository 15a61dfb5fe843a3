package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/webai/internal/app"
	"github.com/MrWong99/webai/internal/observe"
)

func TestSessionManager_OpenRelease(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(0, nil)

	ctx, release, err := sm.Open(context.Background(), "vlm", "127.0.0.1:5000")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	id := observe.SessionID(ctx)
	if id == "" {
		t.Fatal("context carries no session ID")
	}

	active := sm.Active()
	if len(active) != 1 {
		t.Fatalf("Active() = %d sessions, want 1", len(active))
	}
	info := active[0]
	if info.SessionID != id {
		t.Errorf("SessionID = %q, want %q", info.SessionID, id)
	}
	if info.Kind != "vlm" {
		t.Errorf("Kind = %q, want %q", info.Kind, "vlm")
	}
	if info.RemoteAddr != "127.0.0.1:5000" {
		t.Errorf("RemoteAddr = %q", info.RemoteAddr)
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}

	release()
	release() // idempotent

	if n := sm.Count(); n != 0 {
		t.Errorf("Count() after release = %d, want 0", n)
	}
	if ctx.Err() == nil {
		t.Error("session context should be cancelled after release")
	}
}

func TestSessionManager_UniqueIDs(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(0, nil)
	seen := make(map[string]bool)
	for range 20 {
		ctx, release, err := sm.Open(context.Background(), "detect", "")
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		defer release()
		id := observe.SessionID(ctx)
		if seen[id] {
			t.Fatalf("duplicate session ID %q", id)
		}
		seen[id] = true
	}
}

func TestSessionManager_Cap(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(2, nil)
	var releases []func()
	for range 2 {
		_, release, err := sm.Open(context.Background(), "vlm", "")
		if err != nil {
			t.Fatalf("Open() under cap: %v", err)
		}
		releases = append(releases, release)
	}

	if _, _, err := sm.Open(context.Background(), "vlm", ""); !errors.Is(err, app.ErrTooManySessions) {
		t.Fatalf("Open() over cap error = %v, want ErrTooManySessions", err)
	}

	releases[0]()
	_, release, err := sm.Open(context.Background(), "vlm", "")
	if err != nil {
		t.Fatalf("Open() after release: %v", err)
	}
	release()
	releases[1]()
}

func TestSessionManager_CloseAll(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(0, nil)
	ctx, release, err := sm.Open(context.Background(), "conversation", "")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	// Simulate a connection handler that ends when its context does.
	go func() {
		<-ctx.Done()
		release()
	}()

	sm.CloseAll()

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sm.Wait(waitCtx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if n := sm.Count(); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}

	if _, _, err := sm.Open(context.Background(), "vlm", ""); !errors.Is(err, app.ErrShuttingDown) {
		t.Errorf("Open() after CloseAll error = %v, want ErrShuttingDown", err)
	}
}

func TestSessionManager_WaitDeadline(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(0, nil)
	_, release, err := sm.Open(context.Background(), "vlm", "")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer release()

	sm.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sm.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}
