// Package inference provides an object detection provider that talks to an
// inference server exposing the Hugging Face object-detection task format:
//
//	POST {"inputs": "<base64 png>", "parameters": {"threshold": 0.9}}
//	→ [{"label": "person", "score": 0.98, "box": {"xmin": 1, "ymin": 2, "xmax": 3, "ymax": 4}}]
//
// This is the same shape the YOLOS and DETR pipelines produce, so a
// text-generation-inference style deployment or a small FastAPI wrapper both
// fit.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/webai/pkg/provider/detect"
	"github.com/MrWong99/webai/pkg/types"
)

var _ detect.Provider = (*Provider)(nil)

const defaultTimeout = 10 * time.Second

// Option is a functional option for Provider.
type Option func(*Provider)

// WithToken sets a bearer token sent on every request.
func WithToken(token string) Option {
	return func(p *Provider) { p.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider implements detect.Provider over HTTP.
type Provider struct {
	endpoint string
	token    string
	client   *http.Client
}

// New creates a Provider posting to endpoint.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("detect inference: endpoint must not be empty")
	}
	p := &Provider{endpoint: endpoint, client: &http.Client{Timeout: defaultTimeout}}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type request struct {
	Inputs     string     `json:"inputs"`
	Parameters parameters `json:"parameters"`
}

type parameters struct {
	Threshold float64 `json:"threshold"`
}

// Detect implements detect.Provider.
func (p *Provider) Detect(ctx context.Context, img image.Image, threshold float64) ([]types.Detection, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("detect inference: encode png: %w", err)
	}
	body, _ := json.Marshal(request{
		Inputs:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		Parameters: parameters{Threshold: threshold},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("detect inference: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect inference: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detect inference: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out []types.Detection
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("detect inference: decode response: %w", err)
	}
	return out, nil
}
