// Package mock provides scripted vad.Engine and vad.Session doubles.
//
//	sess := &mock.Session{Probabilities: []float64{0.9, 0.9, 0.0}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/webai/pkg/provider/vad"
)

var (
	_ vad.Engine  = (*Engine)(nil)
	_ vad.Session = (*Session)(nil)
)

// Engine hands out Session, or a fresh zero Session when it is nil.
type Engine struct {
	Session       vad.Session
	NewSessionErr error

	mu      sync.Mutex
	configs []vad.Config
}

func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	default:
		return &Session{}, nil
	}
}

// Configs returns the config of every NewSession call in order.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session scores chunks from a script. Precedence: ProbabilityErr, then
// ProbabilityFunc, then Probabilities (one value per call), then Default.
type Session struct {
	Probabilities   []float64
	Default         float64
	ProbabilityFunc func(chunk []float32) float64
	ProbabilityErr  error
	CloseErr        error

	// Chunks holds a copy of every scored chunk.
	Chunks         [][]float32
	ResetCallCount int
	CloseCallCount int

	mu sync.Mutex
}

func (s *Session) Probability(chunk []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Chunks = append(s.Chunks, append([]float32(nil), chunk...))
	switch {
	case s.ProbabilityErr != nil:
		return 0, s.ProbabilityErr
	case s.ProbabilityFunc != nil:
		return s.ProbabilityFunc(chunk), nil
	case len(s.Probabilities) > 0:
		p := s.Probabilities[0]
		s.Probabilities = s.Probabilities[1:]
		return p, nil
	default:
		return s.Default, nil
	}
}

// Scored returns how many chunks have been scored so far.
func (s *Session) Scored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCallCount++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}
