// Package energy provides a dependency-free VAD engine that maps the RMS
// energy of each chunk onto a speech probability.
//
// It is far less robust than a neural detector but needs no model file, which
// makes it the default for tests and for machines without ONNX Runtime.
package energy

import (
	"errors"

	"github.com/MrWong99/webai/pkg/audio"
	"github.com/MrWong99/webai/pkg/provider/vad"
)

const (
	defaultFloor = 0.005
	defaultCeil  = 0.05
)

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithFloor sets the RMS level at or below which the probability is 0.
func WithFloor(rms float64) Option {
	return func(e *Engine) { e.floor = rms }
}

// WithCeil sets the RMS level at or above which the probability is 1.
func WithCeil(rms float64) Option {
	return func(e *Engine) { e.ceil = rms }
}

// WithSmoothing sets the exponential smoothing factor in (0, 1]. A value of 1
// disables smoothing. Default: 1.
func WithSmoothing(alpha float64) Option {
	return func(e *Engine) { e.alpha = alpha }
}

// Engine implements vad.Engine using signal energy.
type Engine struct {
	floor float64
	ceil  float64
	alpha float64
}

var _ vad.Engine = (*Engine)(nil)

// New creates an energy-based Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{floor: defaultFloor, ceil: defaultCeil, alpha: 1}
	for _, o := range opts {
		o(e)
	}
	if e.ceil <= e.floor {
		return nil, errors.New("energy: ceil must be greater than floor")
	}
	if e.alpha <= 0 || e.alpha > 1 {
		return nil, errors.New("energy: smoothing must be in (0, 1]")
	}
	return e, nil
}

// NewSession implements vad.Engine. The sample rate is not needed for RMS
// scoring and is only validated for sanity.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("energy: sample rate must be positive")
	}
	return &session{engine: e}, nil
}

type session struct {
	engine *Engine
	prev   float64
	primed bool
	closed bool
}

func (s *session) Probability(chunk []float32) (float64, error) {
	if s.closed {
		return 0, errors.New("energy: session is closed")
	}
	e := s.engine
	p := (audio.RMS(chunk) - e.floor) / (e.ceil - e.floor)
	p = max(0, min(1, p))
	if s.primed {
		p = e.alpha*p + (1-e.alpha)*s.prev
	}
	s.prev = p
	s.primed = true
	return p, nil
}

func (s *session) Reset() {
	s.prev = 0
	s.primed = false
}

func (s *session) Close() error {
	s.closed = true
	return nil
}
