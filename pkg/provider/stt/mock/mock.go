// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to script transcripts and inspect which audio was submitted.
//
// Example:
//
//	p := &mock.Provider{Results: []types.Transcript{{Text: "hello", IsFinal: true}}}
//	tr, _ := p.Transcribe(ctx, stt.Request{Audio: samples}, nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/webai/pkg/provider/stt"
	"github.com/MrWong99/webai/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Req is the Request passed to Transcribe. Audio is copied.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results is consumed one value per call. When exhausted, Default is
	// returned.
	Results []types.Transcript

	// Default is returned once Results is exhausted.
	Default types.Transcript

	// Partials are delivered to the partial callback, in order, on every call.
	Partials []types.Transcript

	// TranscribeErr, if non-nil, is returned by every call.
	TranscribeErr error

	// Block, if non-nil, is waited on (or ctx.Done) before returning.
	Block chan struct{}

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted transcript.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request, partial stt.PartialFunc) (types.Transcript, error) {
	p.mu.Lock()
	cp := req
	cp.Audio = append([]float32(nil), req.Audio...)
	p.Calls = append(p.Calls, TranscribeCall{Req: cp})
	partials := append([]types.Transcript(nil), p.Partials...)
	block := p.Block
	err := p.TranscribeErr
	result := p.Default
	if len(p.Results) > 0 {
		result = p.Results[0]
		p.Results = p.Results[1:]
	}
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return types.Transcript{}, ctx.Err()
		}
	}
	if err != nil {
		return types.Transcript{}, err
	}
	if partial != nil {
		for _, t := range partials {
			partial(t)
		}
	}
	return result, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ stt.Provider = (*Provider)(nil)
