package resilience

import (
	"context"

	"github.com/MrWong99/webai/pkg/provider/llm"
	"github.com/MrWong99/webai/pkg/provider/stt"
	"github.com/MrWong99/webai/pkg/provider/tts"
	"github.com/MrWong99/webai/pkg/types"
)

// LLMFallback is an [llm.Provider] that fails over between LLM backends.
// Only stream setup fails over; an error chunk mid-stream reaches the caller.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns an LLMFallback preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.AddFallback(name, p) }

// StreamCompletion implements [llm.Provider].
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the primary's tokenizer, falling back to the shared
// estimate. Token counting does not touch the network and never fails over.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	n, err := f.group.Primary().CountTokens(messages)
	if err != nil {
		return llm.EstimateTokens(messages), nil
	}
	return n, nil
}

// Capabilities reports the primary's capabilities.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// STTFallback is an [stt.Provider] that fails over between STT backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an STTFallback preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// Transcribe implements [stt.Provider]. Partials from a backend that later
// fails may already have been delivered.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request, partial stt.PartialFunc) (types.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, req, partial)
	})
}

// TTSFallback is a [tts.Provider] that fails over between TTS backends when
// a stream cannot be started.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a TTSFallback preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.AddFallback(name, p) }

// SynthesizeStream implements [tts.Provider].
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan tts.Segment, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan tts.Segment, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices implements [tts.Provider].
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
