// Package server exposes the worker registry over HTTP. Each worker kind is
// reachable as a WebSocket endpoint; one connection hosts one worker
// instance for its whole lifetime.
//
// Routes:
//
//	GET /healthz             liveness
//	GET /readyz              readiness (503 while draining)
//	GET /metrics             Prometheus scrape endpoint
//	GET /v1/workers          registered worker kinds
//	GET /v1/workers/{kind}   WebSocket upgrade into a worker session
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/webai/internal/health"
	"github.com/MrWong99/webai/internal/observe"
	"github.com/MrWong99/webai/internal/worker"
)

// HeaderSessionID carries the session ID on the upgrade response.
const HeaderSessionID = "X-Session-ID"

// Sessions admits worker connections. Open returns a context carrying the
// session (cancelled when the session is force-closed) and a release
// function that must be called once the connection ends. An error means the
// connection must be refused.
type Sessions interface {
	Open(ctx context.Context, kind, remoteAddr string) (context.Context, func(), error)
}

// Config holds the dependencies of a [Server].
type Config struct {
	// Workers resolves {kind} to a fresh worker. Required.
	Workers *worker.Registry

	// Sessions gates new connections. Required.
	Sessions Sessions

	// Health serves /healthz and /readyz. Optional.
	Health *health.Handler

	// Metrics records HTTP and worker metrics. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Default: promhttp.Handler().
	MetricsHandler http.Handler

	// AllowedOrigins are host patterns accepted for cross-origin upgrades.
	// Empty means same-origin only.
	AllowedOrigins []string

	// ReadLimit bounds one client frame in bytes. Default: [DefaultReadLimit].
	ReadLimit int64

	// HostOptions are passed to every [worker.NewHost].
	HostOptions []worker.HostOption
}

// Server is the HTTP front of the worker registry. It implements
// [http.Handler].
type Server struct {
	cfg    Config
	router chi.Router
}

var _ http.Handler = (*Server)(nil)

// New builds the router. It panics if Workers or Sessions is nil.
func New(cfg Config) *Server {
	if cfg.Workers == nil || cfg.Sessions == nil {
		panic("server: Workers and Sessions are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	s := &Server{cfg: cfg}
	r := chi.NewRouter()
	r.Use(observe.Middleware(cfg.Metrics))
	if cfg.Health != nil {
		cfg.Health.Mount(r)
	}
	r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	r.Get("/v1/workers", s.listWorkers)
	r.Get("/v1/workers/{kind}", s.serveWorker)
	s.router = r
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// WorkerList is the body of GET /v1/workers.
type WorkerList struct {
	Workers []string `json:"workers"`
}

func (s *Server) listWorkers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, WorkerList{Workers: s.cfg.Workers.Kinds()})
}

func (s *Server) serveWorker(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	log := observe.Logger(r.Context()).With("worker", kind)

	ctx, release, err := s.cfg.Sessions.Open(r.Context(), kind, r.RemoteAddr)
	if err != nil {
		log.Warn("server: session refused", "remote", r.RemoteAddr, "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer release()
	log = observe.Logger(ctx).With("worker", kind)

	wk, err := s.cfg.Workers.New(ctx, kind)
	if err != nil {
		if errors.Is(err, worker.ErrUnknownKind) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		log.Error("server: create worker", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set(HeaderSessionID, observe.SessionID(ctx))
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		log.Debug("server: websocket accept failed", "error", err)
		if cl, ok := wk.(io.Closer); ok {
			_ = cl.Close()
		}
		return
	}

	conn := NewConn(c, s.cfg.ReadLimit)
	log.Info("server: session started", "remote", r.RemoteAddr)

	opts := append([]worker.HostOption{worker.WithMetrics(s.cfg.Metrics)}, s.cfg.HostOptions...)
	runErr := worker.NewHost(wk, conn, opts...).Run(ctx)

	reason := ""
	if ctx.Err() != nil {
		reason = "server shutting down"
	}
	_ = conn.Close(reason)

	if runErr != nil {
		log.Info("server: session ended", "error", runErr)
		return
	}
	log.Info("server: session ended")
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: encode response", "error", err)
	}
}
