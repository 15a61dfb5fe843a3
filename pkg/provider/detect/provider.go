// Package detect defines the Provider interface for object detection
// backends.
package detect

import (
	"context"
	"image"

	"github.com/MrWong99/webai/pkg/types"
)

// Provider is the abstraction over any object detection backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Detect returns the objects found in img whose score is at least
	// threshold. Boxes are in pixel coordinates of img.
	Detect(ctx context.Context, img image.Image, threshold float64) ([]types.Detection, error)
}
