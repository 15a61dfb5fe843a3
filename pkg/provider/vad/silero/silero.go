// Package silero provides a VAD engine backed by the Silero VAD ONNX model via
// github.com/streamer45/silero-vad-go.
//
// The detector reports speech segments, not per-window probabilities, and it
// only scores whole windows strictly before the end of its input. Each call
// therefore scores a fresh frame: the last half second of audio as context
// followed by the chunk, front-padded with silence to k windows plus one
// sample. The detector is reset first, so no segment state spans calls. The
// chunk's score is the fraction of it covered by detected speech.
//
// ONNX Runtime must be installed and discoverable at link time.
package silero

import (
	"errors"
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/webai/pkg/provider/vad"
)

const (
	defaultThreshold    = 0.5
	defaultMinSilenceMs = 100
	contextMs           = 500
	windowSize16k       = 512
	windowSize8k        = 256
)

// detector is the part of *speech.Detector a session uses.
type detector interface {
	Detect(pcm []float32) ([]speech.Segment, error)
	Reset() error
	Destroy() error
}

// Engine implements vad.Engine for the Silero model at modelPath.
type Engine struct {
	modelPath string
}

var _ vad.Engine = (*Engine)(nil)

// New returns an Engine that loads the model at modelPath for every session.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession implements vad.Engine. Each session owns its own detector.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	var window int
	switch cfg.SampleRate {
	case 16000:
		window = windowSize16k
	case 8000:
		window = windowSize8k
	default:
		return nil, fmt.Errorf("silero: unsupported sample rate %d; valid: 8000, 16000", cfg.SampleRate)
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            e.modelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            float32(threshold),
		MinSilenceDurationMs: defaultMinSilenceMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return newSession(det, cfg.SampleRate, window), nil
}

type session struct {
	det        detector
	sampleRate int
	window     int

	// history holds up to contextLen samples preceding the next chunk.
	history    []float32
	contextLen int
	closed     bool
}

func newSession(det detector, sampleRate, window int) *session {
	return &session{
		det:        det,
		sampleRate: sampleRate,
		window:     window,
		contextLen: sampleRate * contextMs / 1000,
	}
}

func (s *session) Probability(chunk []float32) (float64, error) {
	if s.closed {
		return 0, errors.New("silero: session is closed")
	}
	if len(chunk) == 0 {
		return 0, nil
	}
	pcm := frame(s.history, chunk, s.window)
	s.remember(chunk)

	if err := s.det.Reset(); err != nil {
		return 0, fmt.Errorf("silero: reset: %w", err)
	}
	segments, err := s.det.Detect(pcm)
	if err != nil {
		return 0, fmt.Errorf("silero: detect: %w", err)
	}

	// Only the first len(pcm)-1 samples are scored, so the chunk span ends
	// one sample early.
	sr := float64(s.sampleRate)
	scored := len(pcm) - 1
	return coverage(segments, float64(scored-len(chunk)+1)/sr, float64(scored)/sr), nil
}

// remember keeps the trailing contextLen samples of the stream.
func (s *session) remember(chunk []float32) {
	s.history = append(s.history, chunk...)
	if over := len(s.history) - s.contextLen; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

// frame returns prev followed by chunk, front-padded with zeros to a
// length of k*window+1 so the detector scores every window of the chunk.
func frame(prev, chunk []float32, window int) []float32 {
	n := len(prev) + len(chunk)
	k := (n + window - 1) / window
	out := make([]float32, k*window+1)
	pad := len(out) - n
	copy(out[pad:], prev)
	copy(out[pad+len(prev):], chunk)
	return out
}

// coverage returns the fraction of [start, end] inside speech. A segment
// still open when the input ran out has a zero SpeechEndAt and extends to end.
func coverage(segments []speech.Segment, start, end float64) float64 {
	if end <= start {
		return 0
	}
	var covered float64
	for _, seg := range segments {
		to := seg.SpeechEndAt
		if to == 0 {
			to = end
		}
		from := max(start, seg.SpeechStartAt)
		to = min(end, to)
		if to > from {
			covered += to - from
		}
	}
	return min(1, covered/(end-start))
}

func (s *session) Reset() {
	s.history = s.history[:0]
	// Reset only fails on a destroyed detector; the next Probability call
	// surfaces that.
	_ = s.det.Reset()
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.det.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy detector: %w", err)
	}
	return nil
}
