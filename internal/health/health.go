// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 while the process can serve HTTP. GET /readyz runs
// every registered [Checker] concurrently and answers 200 only when all pass
// and the server is not draining; otherwise 503. Both bodies look like:
//
//	{"status": "ok", "checks": {"models": "ok", "history": "fail: ..."}}
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. It is safe for concurrent use.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	draining atomic.Bool
}

// New returns a Handler with the given checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Add registers another checker.
func (h *Handler) Add(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// SetDraining marks the server as shutting down, which fails readiness so
// load balancers stop sending new sessions.
func (h *Handler) SetDraining(v bool) { h.draining.Store(v) }

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	outcomes := make([]string, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			if err := c.Check(ctx); err != nil {
				outcomes[i] = "fail: " + err.Error()
			} else {
				outcomes[i] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(checkers)+1)}
	status := http.StatusOK
	for i, c := range checkers {
		res.Checks[c.Name] = outcomes[i]
		if outcomes[i] != "ok" {
			res.Status, status = "fail", http.StatusServiceUnavailable
		}
	}
	if h.draining.Load() {
		res.Checks["draining"] = "fail: shutting down"
		res.Status, status = "fail", http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Mount adds the probe routes to r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
