// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio segments to consumers and to verify
// that the correct VoiceProfile and sentences reach the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SampleRate:       24000,
//	    ListVoicesResult: []types.VoiceProfile{{ID: "af_heart", Name: "Heart"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/webai/pkg/provider/tts"
	"github.com/MrWong99/webai/pkg/types"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider. For every sentence read
// from the input channel it emits one segment whose Text is the sentence and
// whose Audio is SamplesPerSentence zero samples.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SampleRate is reported on every emitted segment. Zero means 24000.
	SampleRate int

	// SamplesPerSentence is the length of the audio emitted per sentence.
	// Zero means 240.
	SamplesPerSentence int

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeStream
	// instead of starting a channel.
	SynthesizeErr error

	// Gate, if non-nil, is received from before each segment is emitted, so
	// tests can hold synthesis mid-stream.
	Gate chan struct{}

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// Sentences records every sentence received across all streams.
	Sentences []string

	// ListVoicesCallCount counts calls to ListVoices.
	ListVoicesCallCount int
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// channel that emits one segment per input sentence.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan tts.Segment, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Voice: voice})
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	rate := p.SampleRate
	if rate == 0 {
		rate = 24000
	}
	n := p.SamplesPerSentence
	if n == 0 {
		n = 240
	}
	gate := p.Gate
	p.mu.Unlock()

	return tts.StreamSentences(ctx, "mock", text, func(ctx context.Context, sentence string) (tts.Segment, error) {
		p.mu.Lock()
		p.Sentences = append(p.Sentences, sentence)
		p.mu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return tts.Segment{}, ctx.Err()
			}
		}
		return tts.Segment{Text: sentence, Audio: make([]float32, n), SampleRate: rate}, nil
	}), nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	return p.ListVoicesResult, p.ListVoicesErr
}

// SentencesSeen returns a copy of every sentence received so far. Thread-safe.
func (p *Provider) SentencesSeen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Sentences...)
}

// StreamCallCount returns the number of SynthesizeStream calls. Thread-safe.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeStreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.Sentences = nil
	p.ListVoicesCallCount = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
