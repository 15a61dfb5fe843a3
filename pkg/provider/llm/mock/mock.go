// Package mock provides a scripted llm.Provider for worker tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/webai/pkg/provider/llm"
	"github.com/MrWong99/webai/pkg/types"
)

// StreamCall is one recorded StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider. Set the exported fields
// before use; the recorded calls are guarded by an internal mutex.
type Provider struct {
	mu sync.Mutex

	// Turns scripts successive StreamCompletion calls: call n replays
	// Turns[n]. Once exhausted, StreamChunks is replayed for every call.
	Turns [][]llm.Chunk

	// StreamChunks is the reply replayed when Turns is empty or used up.
	StreamChunks []llm.Chunk

	// StreamErr fails StreamCompletion before any channel is opened.
	StreamErr error

	// StreamGate, if non-nil, must yield a value before each chunk is sent.
	// It lets a test hold a reply mid-stream.
	StreamGate chan struct{}

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	TokenCount     int
	CountTokensErr error

	ModelCapabilities types.ModelCapabilities

	// StreamCalls records StreamCompletion calls in order.
	StreamCalls []StreamCall

	completeReqs []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion replays the scripted reply for this call.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	turn := len(p.StreamCalls)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	script := p.StreamChunks
	if turn < len(p.Turns) {
		script = p.Turns[turn]
	}
	chunks := append([]llm.Chunk(nil), script...)
	gate := p.StreamGate
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete returns CompleteResponse and CompleteErr.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completeReqs = append(p.completeReqs, req)
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens returns TokenCount and CountTokensErr.
func (p *Provider) CountTokens([]types.Message) (int, error) {
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.ModelCapabilities
}

// StreamCallCount returns the number of StreamCompletion calls so far.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// LastRequest returns the request of the most recent StreamCompletion call,
// or false if there was none.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StreamCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.StreamCalls[len(p.StreamCalls)-1].Req, true
}

// CompleteRequests returns a copy of every request passed to Complete.
func (p *Provider) CompleteRequests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.completeReqs...)
}
