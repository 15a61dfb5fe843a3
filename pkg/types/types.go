// Package types defines the shared types used across webai packages.
//
// These types are the common vocabulary between providers, workers and the
// wire protocol. Each package defines its own domain types; only cross-cutting
// data structures live here to avoid circular imports.
package types

import "time"

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final or a partial transcript.
	IsFinal bool

	// Language is the detected or requested language, if known.
	Language string

	// NumTokens is the number of tokens decoded so far. Zero if the provider
	// does not report it.
	NumTokens int

	// TokensPerSecond is the decoding throughput. Zero if unknown.
	TokensPerSecond float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// VoiceProfile describes a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g., "af_heart").
	ID string

	// Name is the human-readable display name (e.g., "Heart").
	Name string

	// Provider identifies the TTS backend this voice belongs to.
	Provider string

	// Language is an optional BCP-47 language tag.
	Language string

	// Gender is an optional free-form descriptor.
	Gender string
}

// BoundingBox is an axis-aligned box in pixel coordinates.
type BoundingBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Detection is a single object detected in an image.
type Detection struct {
	Label string      `json:"label"`
	Score float64     `json:"score"`
	Box   BoundingBox `json:"box"`
}

// ModelCapabilities describes what a given LLM can do.
type ModelCapabilities struct {
	// ContextWindow is the maximum number of tokens in prompt plus completion.
	ContextWindow int

	// MaxOutputTokens is the maximum number of tokens the model can generate.
	MaxOutputTokens int

	// SupportsStreaming indicates whether the model supports streaming output.
	SupportsStreaming bool

	// SupportsVision indicates whether the model accepts image inputs.
	SupportsVision bool
}
