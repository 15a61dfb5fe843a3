// Package app wires all webai subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates the model cache, the
// history journal and the worker registry, Run serves HTTP until its context
// ends, and Shutdown drains sessions and tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithModelStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/webai/internal/config"
	"github.com/MrWong99/webai/internal/health"
	"github.com/MrWong99/webai/internal/history"
	"github.com/MrWong99/webai/internal/modelstore"
	"github.com/MrWong99/webai/internal/observe"
	"github.com/MrWong99/webai/internal/server"
	"github.com/MrWong99/webai/internal/worker"
)

// ShutdownGrace is how long main waits for Shutdown before giving up.
const ShutdownGrace = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	models      *modelstore.Store
	history     history.Store
	workers     *worker.Registry
	sessions    *SessionManager
	health      *health.Handler
	metricsHTTP http.Handler
	handler     http.Handler
	srv         *http.Server

	// conversation holds the hot-reloadable conversation defaults.
	conversation atomic.Pointer[config.ConversationConfig]

	addrMu sync.Mutex
	addr   net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithModelStore injects a model cache instead of creating one from config.
func WithModelStore(s *modelstore.Store) Option {
	return func(a *App) { a.models = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler overrides the /metrics handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHTTP = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via [BuildProviders]). Ownership of providers
// passes to the App: Shutdown closes them.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	conv := cfg.Workers.Conversation
	a.conversation.Store(&conv)

	// ── 1. Model cache ───────────────────────────────────────────────────
	if a.models == nil {
		a.models = modelstore.New(cfg.Models.CacheDir, modelstore.WithConcurrency(cfg.Models.Concurrency))
	}

	// ── 2. History journal ───────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Worker registry ───────────────────────────────────────────────
	a.workers = worker.NewRegistry()
	a.registerWorkers()
	if len(a.workers.Kinds()) == 0 {
		slog.Warn("no worker is enabled; check the providers section")
	}

	// ── 4. Sessions and health ───────────────────────────────────────────
	a.sessions = NewSessionManager(cfg.Server.MaxSessions, a.metrics)
	a.health = health.New()
	a.health.Add(health.Checker{Name: "workers", Check: a.checkWorkers})
	if p, ok := a.history.(interface{ Ping(context.Context) error }); ok {
		a.health.Add(health.Checker{Name: "history", Check: p.Ping})
	}

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.handler = server.New(server.Config{
		Workers:        a.workers,
		Sessions:       a.sessions,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHTTP,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.closers = append(a.closers, providers.Close)
	return a, nil
}

// initHistory opens the Postgres journal when configured, falling back to an
// in-memory store.
func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		a.history = history.NewMemoryStore()
		return nil
	}
	store, closeFn, err := history.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, func() error {
		closeFn()
		return nil
	})
	slog.Info("history journal connected", "backend", "postgres")
	return nil
}

func (a *App) checkWorkers(context.Context) error {
	if len(a.workers.Kinds()) == 0 {
		return errors.New("no worker enabled")
	}
	return nil
}

// Handler returns the HTTP handler serving all routes.
func (a *App) Handler() http.Handler { return a.handler }

// Workers returns the registered worker kinds.
func (a *App) Workers() []string { return a.workers.Kinds() }

// Registry returns the worker registry.
func (a *App) Registry() *worker.Registry { return a.workers }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Addr returns the listening address once Run has bound it, or nil.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run binds the listen address and serves HTTP until ctx is cancelled or the
// server fails. When ctx is done, Run returns context.Canceled (or the
// underlying cause); call Shutdown afterwards to drain sessions.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.srv.Addr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	errc := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errc <- a.srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errc <- a.srv.Serve(ln)
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "workers", a.workers.Kinds(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies a hot config change. Only the conversation defaults take
// effect here, for sessions opened afterwards; changes listed in
// diff.RestartRequired are logged and otherwise ignored.
func (a *App) Reload(newCfg *config.Config, diff config.ConfigDiff) {
	if diff.ConversationChanged {
		conv := newCfg.Workers.Conversation
		a.conversation.Store(&conv)
		slog.Info("conversation defaults reloaded", "default_voice", conv.DefaultVoice, "language", conv.Language)
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", diff.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the app as draining, stops accepting connections, cancels
// every live session and then runs the closers. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Count(), "closers", len(a.closers))
		a.health.SetDraining(true)

		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		// Hijacked WebSocket connections are not tracked by http.Server.
		a.sessions.CloseAll()
		if err := a.sessions.Wait(ctx); err != nil {
			slog.Warn("sessions did not drain", "remaining", a.sessions.Count())
			shutdownErr = err
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
