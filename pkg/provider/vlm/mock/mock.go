// Package mock provides a test double for the vlm.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/webai/pkg/provider/vlm"
)

// Provider is a mock implementation of vlm.Provider.
type Provider struct {
	mu sync.Mutex

	// Answer is returned by Describe.
	Answer string

	// DescribeErr, if non-nil, is returned by Describe.
	DescribeErr error

	// Requests records every request passed to Describe.
	Requests []vlm.Request
}

// Describe records the request and returns Answer, DescribeErr.
func (p *Provider) Describe(_ context.Context, req vlm.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	return p.Answer, p.DescribeErr
}

// CallCount returns the number of Describe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

var _ vlm.Provider = (*Provider)(nil)
