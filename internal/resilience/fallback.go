package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no backend in a [FallbackGroup] succeeded.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each backend's breaker. Name is
	// replaced by the backend name.
	CircuitBreaker CircuitBreakerConfig

	// OnFailure, if set, is called for every backend error that causes a
	// failover. Cancellation and open breakers are not reported.
	OnFailure func(name string, err error)
}

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds backends of one kind in priority order, each behind its
// own breaker. Backends must be added before the group is shared.
type FallbackGroup[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
}

// NewFallbackGroup returns a group with primary as its first backend.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.backends = append(fg.backends, backend[T]{name: name, value: value, breaker: NewCircuitBreaker(cb)})
}

// Names returns the backend names in priority order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.backends))
	for i, b := range fg.backends {
		names[i] = b.name
	}
	return names
}

// Primary returns the first backend.
func (fg *FallbackGroup[T]) Primary() T { return fg.backends[0].value }

// Execute runs fn against each backend until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult runs fn against each backend until one succeeds and
// returns its result. A cancellation error is returned as is, without trying
// further backends.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.backends {
		b := &fg.backends[i]
		var res R
		err := b.breaker.Execute(func() error {
			var err error
			res, err = fn(b.value)
			return err
		})
		switch {
		case err == nil:
			return res, nil
		case isCancellation(err):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: skipping provider with open circuit", "provider", b.name)
		default:
			slog.Warn("resilience: provider failed, trying next", "provider", b.name, "error", err)
			if fg.cfg.OnFailure != nil {
				fg.cfg.OnFailure(b.name, err)
			}
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
