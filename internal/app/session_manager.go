package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/webai/internal/observe"
	"github.com/MrWong99/webai/internal/server"
)

var (
	// ErrTooManySessions is returned by Open when the session cap is reached.
	ErrTooManySessions = errors.New("app: too many sessions")

	// ErrShuttingDown is returned by Open after CloseAll.
	ErrShuttingDown = errors.New("app: shutting down")
)

// SessionInfo holds metadata about an active worker session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// Kind is the worker kind served on the connection.
	Kind string

	// RemoteAddr is the client address of the upgrade request.
	RemoteAddr string

	// StartedAt is when the session was opened.
	StartedAt time.Time
}

type activeSession struct {
	info   SessionInfo
	cancel context.CancelFunc
}

// SessionManager tracks live worker sessions and enforces the concurrent
// session cap. All exported methods are safe for concurrent use.
type SessionManager struct {
	metrics *observe.Metrics

	mu       sync.Mutex
	max      int
	closed   bool
	sessions map[string]*activeSession
	wg       sync.WaitGroup
}

var _ server.Sessions = (*SessionManager)(nil)

// NewSessionManager creates a SessionManager admitting at most max
// concurrent sessions. Zero or negative means unlimited.
func NewSessionManager(max int, metrics *observe.Metrics) *SessionManager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionManager{
		metrics:  metrics,
		max:      max,
		sessions: make(map[string]*activeSession),
	}
}

// Open admits a new session of the given worker kind. The returned context
// carries the session ID and is cancelled by CloseAll. release must be
// called exactly once when the connection ends.
func (sm *SessionManager) Open(ctx context.Context, kind, remoteAddr string) (context.Context, func(), error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return nil, nil, ErrShuttingDown
	}
	if sm.max > 0 && len(sm.sessions) >= sm.max {
		return nil, nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, sm.max)
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(observe.WithSession(ctx, id))
	sm.sessions[id] = &activeSession{
		info: SessionInfo{
			SessionID:  id,
			Kind:       kind,
			RemoteAddr: remoteAddr,
			StartedAt:  time.Now().UTC(),
		},
		cancel: cancel,
	}
	sm.wg.Add(1)
	sm.metrics.ActiveSessions.Add(ctx, 1, metric.WithAttributes(observe.Attr("worker", kind)))

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			sm.mu.Lock()
			delete(sm.sessions, id)
			sm.mu.Unlock()
			sm.metrics.ActiveSessions.Add(context.Background(), -1, metric.WithAttributes(observe.Attr("worker", kind)))
			sm.wg.Done()
		})
	}
	return ctx, release, nil
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Active returns the live sessions ordered by start time.
func (sm *SessionManager) Active() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s.info)
	}
	sm.mu.Unlock()

	slices.SortFunc(out, func(a, b SessionInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// CloseAll refuses further sessions and cancels every live one. Use Wait to
// block until their connections have been released.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	sm.closed = true
	live := make([]*activeSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		live = append(live, s)
	}
	sm.mu.Unlock()

	if len(live) > 0 {
		slog.Info("closing sessions", "count", len(live))
	}
	for _, s := range live {
		s.cancel()
	}
}

// Wait blocks until every session has been released or ctx is done.
func (sm *SessionManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
