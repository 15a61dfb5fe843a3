// Package capture records microphone audio through PortAudio and delivers it
// as mono float32 chunks, the same shape a browser audio worklet produces.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const (
	defaultSampleRate      = 16000
	defaultFramesPerBuffer = 512
)

// Option is a functional option for configuring a [Microphone].
type Option func(*Microphone)

// WithSampleRate sets the capture sample rate in Hz. Default: 16000.
func WithSampleRate(rate int) Option {
	return func(m *Microphone) { m.sampleRate = rate }
}

// WithFramesPerBuffer sets the number of samples per delivered chunk.
// Default: 512.
func WithFramesPerBuffer(n int) Option {
	return func(m *Microphone) { m.framesPerBuf = n }
}

// Microphone captures the default input device.
type Microphone struct {
	sampleRate   int
	framesPerBuf int

	mu      sync.Mutex
	stream  *portaudio.Stream
	stopped bool
}

// New creates a Microphone. PortAudio is initialised lazily by Start.
func New(opts ...Option) *Microphone {
	m := &Microphone{
		sampleRate:   defaultSampleRate,
		framesPerBuf: defaultFramesPerBuffer,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start opens the default input device and returns a channel of captured
// chunks. The channel is closed when ctx is cancelled, Stop is called, or the
// device fails. Chunks are dropped when the consumer falls behind.
func (m *Microphone) Start(ctx context.Context) (<-chan []float32, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("capture: init portaudio: %w", err)
	}

	buf := make([]float32, m.framesPerBuf)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("capture: open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("capture: start stream: %w", err)
	}

	m.mu.Lock()
	m.stream = stream
	m.stopped = false
	m.mu.Unlock()

	out := make(chan []float32, 64)
	go func() {
		defer close(out)
		defer m.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := stream.Read(); err != nil {
				slog.Debug("capture: read failed", "error", err)
				return
			}
			chunk := append([]float32(nil), buf...)
			select {
			case out <- chunk:
			default:
				slog.Debug("capture: consumer behind, dropping chunk")
			}
		}
	}()
	return out, nil
}

// Stop closes the device and releases PortAudio. Safe to call more than once.
func (m *Microphone) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.stream == nil {
		return
	}
	m.stopped = true
	_ = m.stream.Stop()
	_ = m.stream.Close()
	_ = portaudio.Terminate()
}
