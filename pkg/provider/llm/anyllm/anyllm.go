// Package anyllm provides an LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-vendor client. It is the
// easiest way to point the voice worker at a local Ollama or llama.cpp server,
// mirroring the small on-device models the browser demos use.
//
// Usage:
//
//	p, err := anyllm.New("ollama", "qwen2.5:0.5b")
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/webai/pkg/provider/llm"
	"github.com/MrWong99/webai/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

type backendFunc func(...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps provider names to any-llm-go constructors. Constructors are
// adapted because each returns its own concrete type.
var backends = map[string]backendFunc{
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Backends returns the supported backend names in sorted order.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider implements llm.Provider by wrapping an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New creates a Provider for the named backend (see [Backends]). opts are
// any-llm-go options such as anyllmlib.WithAPIKey. Without an API key the
// backend reads its usual environment variable (OPENAI_API_KEY, ...).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	name := strings.ToLower(providerName)
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s", providerName, strings.Join(Backends(), ", "))
	}
	backend, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Provider{backend: backend, name: name, model: model}, nil
}

// NewOllama creates a Provider backed by a local Ollama server, by default
// http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// NewLlamaCpp creates a Provider backed by llama-server, by default
// http://127.0.0.1:8080/v1.
func NewLlamaCpp(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("llamacpp", model, opts...)
}

// Backend returns the lowercase backend name.
func (p *Provider) Backend() string { return p.name }

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	in, errs := p.backend.CompletionStream(ctx, p.buildParams(req))
	out := make(chan llm.Chunk, 32)
	send := func(c llm.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		for chunk := range in {
			if len(chunk.Choices) == 0 {
				continue
			}
			d := chunk.Choices[0]
			if d.Delta.Content == "" && d.FinishReason == "" {
				continue
			}
			if !send(llm.Chunk{Text: d.Delta.Content, FinishReason: d.FinishReason}) {
				return
			}
		}
		// A backend error ends the reply with a FinishReasonError chunk
		// unless the caller already cancelled.
		if err := <-errs; err != nil && ctx.Err() == nil {
			send(llm.Chunk{FinishReason: llm.FinishReasonError, Text: fmt.Sprintf("anyllm %s: %v", p.name, err)})
		}
	}()
	return out, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	result := &llm.CompletionResponse{
		Content: resp.Choices[0].Message.ContentString(),
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// buildParams converts a CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// capabilityRule applies to models whose lowercase name contains any of
// the needles.
type capabilityRule struct {
	needles []string
	window  int
	output  int
	vision  bool
}

// capabilityRules are checked in order; the first match wins. Zero window or
// output keeps the local-model default.
var capabilityRules = []capabilityRule{
	{needles: []string{"gpt-4o"}, window: 128_000, output: 16_384, vision: true},
	{needles: []string{"claude"}, window: 200_000, output: 8_192, vision: true},
	{needles: []string{"gemini"}, window: 1_048_576, output: 8_192, vision: true},
	{needles: []string{"qwen2.5"}, window: 32_768},
	{needles: []string{"llava", "smolvlm", "moondream"}, vision: true},
}

// modelCapabilities looks model up in capabilityRules. Unknown models get
// conservative local-model defaults.
func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsStreaming: true,
		ContextWindow:     8_192,
		MaxOutputTokens:   2_048,
	}
	lower := strings.ToLower(model)
	for _, r := range capabilityRules {
		if !slices.ContainsFunc(r.needles, func(n string) bool { return strings.Contains(lower, n) }) {
			continue
		}
		if r.window > 0 {
			caps.ContextWindow = r.window
		}
		if r.output > 0 {
			caps.MaxOutputTokens = r.output
		}
		caps.SupportsVision = r.vision
		break
	}
	return caps
}
