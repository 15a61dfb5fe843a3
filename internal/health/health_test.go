package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func get(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	r := chi.NewRouter()
	h.Mount(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body
}

func pass(context.Context) error { return nil }

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "models", Check: func(context.Context) error { return errors.New("missing") }})
	h.SetDraining(true)
	code, body := get(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %+v", code, body)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []Checker
		draining bool
		want     int
		checks   map[string]string
	}{
		{name: "no checkers", want: http.StatusOK},
		{
			name:     "all pass",
			checkers: []Checker{{Name: "models", Check: pass}, {Name: "history", Check: pass}},
			want:     http.StatusOK,
			checks:   map[string]string{"models": "ok", "history": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "models", Check: pass},
				{Name: "history", Check: func(context.Context) error { return errors.New("connection refused") }},
			},
			want:   http.StatusServiceUnavailable,
			checks: map[string]string{"models": "ok", "history": "fail: connection refused"},
		},
		{
			name:     "draining",
			checkers: []Checker{{Name: "models", Check: pass}},
			draining: true,
			want:     http.StatusServiceUnavailable,
			checks:   map[string]string{"models": "ok", "draining": "fail: shutting down"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New(tt.checkers...)
			h.SetDraining(tt.draining)
			code, body := get(t, h, "/readyz")
			if code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
			for k, v := range tt.checks {
				if body.Checks[k] != v {
					t.Errorf("checks[%q] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New()
	for _, n := range []string{"a", "b", "c", "d"} {
		h.Add(Checker{Name: n, Check: slow})
	}

	start := time.Now()
	code, _ := get(t, h, "/readyz")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if el := time.Since(start); el > 700*time.Millisecond {
		t.Errorf("readyz took %v; checks ran sequentially", el)
	}
}
