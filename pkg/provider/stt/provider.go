// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription engine (a whisper.cpp server, the
// whisper.cpp CGO bindings, or a hosted API) and exposes a uniform batch
// interface: a complete speech segment goes in, text comes out. Segmentation
// happens upstream, in the voice worker's VAD loop, so providers never see
// silence-only audio in normal operation.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/webai/pkg/types"
)

// ErrNotSupported is returned by optional operations a backend cannot perform.
var ErrNotSupported = errors.New("stt: operation not supported")

// Request describes one transcription job.
type Request struct {
	// Audio holds mono float samples in [-1, 1].
	Audio []float32

	// SampleRate is the rate of Audio in Hz. Zero means 16000.
	SampleRate int

	// Language is the BCP-47 language hint (e.g., "en", "de"). Empty lets the
	// backend auto-detect or use its configured default.
	Language string

	// MaxTokens caps the number of decoded tokens where the backend supports
	// it. Zero means the backend default.
	MaxTokens int
}

// PartialFunc receives interim transcripts while decoding is in progress.
type PartialFunc func(types.Transcript)

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe decodes req.Audio and returns the final transcript.
	//
	// When partial is non-nil, backends that decode incrementally call it
	// with interim results from the calling goroutine before Transcribe
	// returns. Backends that cannot stream simply never call it.
	Transcribe(ctx context.Context, req Request, partial PartialFunc) (types.Transcript, error)
}

// SampleRateOrDefault returns r.SampleRate, or 16000 when it is unset.
func (r Request) SampleRateOrDefault() int {
	if r.SampleRate <= 0 {
		return 16000
	}
	return r.SampleRate
}
