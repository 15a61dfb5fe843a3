// Package mock provides a test double for the detect.Provider interface.
package mock

import (
	"context"
	"image"
	"sync"

	"github.com/MrWong99/webai/pkg/provider/detect"
	"github.com/MrWong99/webai/pkg/types"
)

// DetectCall records a single invocation of Detect.
type DetectCall struct {
	Bounds    image.Rectangle
	Threshold float64
}

// Provider is a mock implementation of detect.Provider. It returns
// Detections unfiltered, so callers' own filtering can be observed.
type Provider struct {
	mu sync.Mutex

	// Detections is returned by Detect.
	Detections []types.Detection

	// DetectErr, if non-nil, is returned by Detect.
	DetectErr error

	// Calls records every call to Detect.
	Calls []DetectCall
}

// Detect records the call and returns Detections, DetectErr.
func (p *Provider) Detect(_ context.Context, img image.Image, threshold float64) ([]types.Detection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, DetectCall{Bounds: img.Bounds(), Threshold: threshold})
	if p.DetectErr != nil {
		return nil, p.DetectErr
	}
	return append([]types.Detection(nil), p.Detections...), nil
}

var _ detect.Provider = (*Provider)(nil)
