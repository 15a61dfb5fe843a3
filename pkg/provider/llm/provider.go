// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Anthropic,
// or a local Ollama or llama.cpp server) and exposes a uniform interface for
// the voice worker to stream completions, count tokens, and inspect model
// capabilities without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled. Cancelling the context is how
// callers interrupt generation.
package llm

import (
	"context"

	"github.com/MrWong99/webai/pkg/types"
)

// FinishReasonError marks a Chunk that carries a backend error in Text.
const FinishReasonError = "error"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// Temperature controls output randomness. Zero means the backend default.
	Temperature float64

	// MaxTokens caps the number of generated tokens. Zero means the backend
	// default.
	MaxTokens int

	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string
}

// Chunk is a single fragment of a streaming completion.
type Chunk struct {
	// Text is the incremental text delta. For a chunk whose FinishReason is
	// FinishReasonError it holds the error message instead.
	Text string

	// FinishReason is non-empty on the final chunk ("stop", "length", "error").
	FinishReason string
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	// Content is the generated text.
	Content string

	// Usage reports token consumption for this request.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion starts a streaming completion and returns a channel of
	// text chunks. The channel is closed when generation finishes, fails, or
	// ctx is cancelled. Returns an error if the request could not be started.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete performs a blocking completion and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens messages would consume.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities reports static information about the configured model.
	Capabilities() types.ModelCapabilities
}

// EstimateTokens is the shared rough token estimate used by providers without
// a tokenizer: about four characters per token plus per-message overhead.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}
