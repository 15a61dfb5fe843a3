// Package openai provides an LLM provider backed by the OpenAI Chat
// Completions API or any server that speaks it (llama.cpp, vLLM, LM Studio).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/webai/pkg/provider/llm"
	"github.com/MrWong99/webai/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string

	baseURL      string
	organization string
	timeout      time.Duration
	legacyMax    bool
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL points the client at an OpenAI-compatible server, e.g.
// "http://localhost:8080/v1" for llama-server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(p *Provider) { p.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithLegacyMaxTokens sends the reply cap as max_tokens instead of
// max_completion_tokens. Older local servers only read the former.
func WithLegacyMaxTokens() Option {
	return func(p *Provider) { p.legacyMax = true }
}

// New constructs a new OpenAI LLM Provider. Local OpenAI-compatible servers
// usually accept any non-empty apiKey.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	p := &Provider{model: model}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	if p.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(p.organization))
	}
	if p.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: p.timeout}))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// StreamCompletion implements llm.Provider. Only text deltas and the finish
// reason are forwarded; a transport error mid-stream ends the channel with a
// FinishReasonError chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	out := make(chan llm.Chunk, 32)
	emit := func(c llm.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(out)
		defer stream.Close()
		for stream.Next() {
			cur := stream.Current()
			if len(cur.Choices) == 0 {
				continue
			}
			c := cur.Choices[0]
			if c.Delta.Content == "" && c.FinishReason == "" {
				continue
			}
			if !emit(llm.Chunk{Text: c.Delta.Content, FinishReason: c.FinishReason}) {
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			emit(llm.Chunk{FinishReason: llm.FinishReasonError, Text: "openai: " + err.Error()})
		}
	}()
	return out, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	switch {
	case err != nil:
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	case len(resp.Choices) == 0:
		return nil, fmt.Errorf("openai: empty choices in response")
	}
	u := resp.Usage
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

// CountTokens implements llm.Provider with the shared character estimate.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// knownModels lists model name prefixes (hosted) or substrings (local
// builds, whose names carry quantisation suffixes) in match order.
var knownModels = []struct {
	match         func(name string) bool
	window, limit int
	vision        bool
}{
	{match: prefix("gpt-4.1"), window: 1_047_576, limit: 32_768, vision: true},
	{match: prefix("gpt-4o"), window: 128_000, limit: 16_384, vision: true},
	{match: prefix("gpt-3.5-turbo"), window: 16_385, limit: 4_096},
	{match: contains("qwen2.5"), window: 32_768, limit: 8_192},
	{match: contains("smolvlm"), window: 8_192, limit: 1_024, vision: true},
	{match: contains("llama-3", "llama3"), window: 8_192, limit: 4_096},
}

func prefix(p string) func(string) bool {
	return func(s string) bool { return strings.HasPrefix(s, p) }
}

func contains(subs ...string) func(string) bool {
	return func(s string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
}

// modelCapabilities reports the limits of model, falling back to a 128k
// window with 4k replies.
func modelCapabilities(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, m := range knownModels {
		if m.match(lower) {
			return types.ModelCapabilities{
				SupportsStreaming: true,
				SupportsVision:    m.vision,
				ContextWindow:     m.window,
				MaxOutputTokens:   m.limit,
			}
		}
	}
	return types.ModelCapabilities{SupportsStreaming: true, ContextWindow: 128_000, MaxOutputTokens: 4_096}
}

// buildParams converts a CompletionRequest into SDK params. The system prompt,
// if any, goes first.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	switch {
	case req.MaxTokens <= 0:
	case p.legacyMax:
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	default:
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case types.RoleUser:
		return oai.UserMessage(m.Content), nil
	case types.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}
