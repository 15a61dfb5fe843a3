// Package vlm defines the Provider interface for vision-language model
// backends: given an image and an instruction, produce a short text answer.
//
// Implementations must be safe for concurrent use.
package vlm

import (
	"context"
	"image"
)

// Request is a single image question.
type Request struct {
	// Instruction is the text prompt, e.g. "What do you see?".
	Instruction string

	// Image is the frame to reason about.
	Image image.Image

	// MaxTokens caps the generated answer. Zero means the backend default.
	MaxTokens int
}

// Provider is the abstraction over any VLM backend.
type Provider interface {
	// Describe answers req.Instruction about req.Image. The returned text is
	// trimmed of surrounding whitespace.
	Describe(ctx context.Context, req Request) (string, error)
}
