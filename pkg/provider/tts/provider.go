// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, a local
// Coqui server, or a Kokoro-FastAPI instance speaking the OpenAI audio API) and
// presents a uniform streaming interface. The primary entry point is
// SynthesizeStream, which accepts a channel of sentences and returns a channel
// of audio segments, each tagged with the sentence it speaks. This keeps
// latency low: the first sentence plays while the LLM is still generating the
// rest of the reply.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"log/slog"

	"github.com/MrWong99/webai/pkg/types"
)

// Segment is one synthesised piece of speech.
type Segment struct {
	// Text is the sentence this audio speaks.
	Text string

	// Audio holds mono float32 samples in [-1, 1].
	Audio []float32

	// SampleRate is the sample rate of Audio in Hz.
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes sentences from the text channel and returns a
	// channel of segments in input order.
	//
	// The returned channel is closed when the text channel is closed and all
	// sentences have been synthesised, or when ctx is cancelled. Errors
	// encountered mid-stream close the channel early; callers should check
	// ctx.Err() to distinguish cancellation from provider failure.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan Segment, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}

// SynthesizeFunc synthesises a single sentence.
type SynthesizeFunc func(ctx context.Context, sentence string) (Segment, error)

// StreamSentences runs synth for each sentence received on text, in order,
// and forwards the resulting segments. Empty sentences are skipped. The
// returned channel is closed when text is closed, ctx is cancelled, or synth
// fails; a failure is logged under the given provider name.
func StreamSentences(ctx context.Context, provider string, text <-chan string, synth SynthesizeFunc) <-chan Segment {
	out := make(chan Segment, 8)
	go func() {
		defer close(out)
		for {
			var sentence string
			var ok bool
			select {
			case <-ctx.Done():
				return
			case sentence, ok = <-text:
				if !ok {
					return
				}
			}
			if sentence == "" {
				continue
			}

			seg, err := synth(ctx, sentence)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("tts: synthesis failed", "provider", provider, "error", err)
				}
				return
			}
			if seg.Text == "" {
				seg.Text = sentence
			}

			select {
			case out <- seg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
