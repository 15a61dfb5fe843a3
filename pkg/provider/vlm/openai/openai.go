// Package openai provides a VLM provider backed by the OpenAI Chat
// Completions API with image content parts. Local servers that expose a
// vision model through the same API (llama.cpp with SmolVLM, Ollama with
// llava) work as well.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/webai/pkg/provider/vlm"
)

var _ vlm.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*[]option.RequestOption)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithBaseURL(url))
	}
}

// Provider implements vlm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a Provider for model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai vlm: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai vlm: model must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Describe implements vlm.Provider.
func (p *Provider) Describe(ctx context.Context, req vlm.Request) (string, error) {
	if req.Image == nil {
		return "", errors.New("openai vlm: image must not be nil")
	}
	dataURL, err := encodeDataURL(req)
	if err != nil {
		return "", err
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
				oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
				oai.TextContentPart(req.Instruction),
			}),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai vlm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai vlm: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// encodeDataURL renders the request image as a base64 PNG data URL.
func encodeDataURL(req vlm.Request) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, req.Image); err != nil {
		return "", fmt.Errorf("openai vlm: encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
