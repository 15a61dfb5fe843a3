// Package resilience keeps a worker usable when one of its model backends
// misbehaves. A [CircuitBreaker] stops calling a backend after repeated
// failures; the fallback wrappers ([LLMFallback], [STTFallback],
// [TTSFallback]) put several backends of one kind behind a single provider
// and fail over between them.
//
// Cancellation is never treated as a backend failure: an interrupted turn
// must not trip a breaker or fail over to the next backend.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until ResetTimeout has passed since the last
	// failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take defaults.
type CircuitBreakerConfig struct {
	// Name labels log records, typically the provider name.
	Name string

	// MaxFailures is the consecutive failure count that opens the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called with the breaker lock held whenever the
	// state changes. It must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a closed/open/half-open breaker. It is safe for
// concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	succeeded int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker is open. Errors satisfying
// context.Canceled or context.DeadlineExceeded pass through without being
// counted.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err == nil:
		cb.onSuccess(probe)
	case isCancellation(err):
		if probe {
			cb.probes--
		}
	default:
		cb.onFailure(probe)
	}
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.probes, cb.succeeded = 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) onFailure(probe bool) {
	cb.openedAt = time.Now()
	if probe {
		cb.failures = cb.cfg.MaxFailures
		cb.setState(StateOpen)
		return
	}
	cb.failures++
	if cb.failures >= cb.cfg.MaxFailures && cb.state != StateOpen {
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess(probe bool) {
	if !probe {
		cb.failures = 0
		return
	}
	cb.succeeded++
	if cb.succeeded >= cb.cfg.HalfOpenMax {
		cb.failures, cb.probes, cb.succeeded = 0, 0, 0
		cb.setState(StateClosed)
	}
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	slog.Info("resilience: circuit breaker state change", "name", cb.cfg.Name, "from", from.String(), "to", to.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose timeout has passed
// reports half-open; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.probes, cb.succeeded = 0, 0, 0
	cb.setState(StateClosed)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
