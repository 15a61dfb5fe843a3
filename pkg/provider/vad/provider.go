// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a speech detector (e.g., Silero VAD or a simple energy
// gate) and surfaces it as a stateful, per-stream session. Each session keeps
// its own model state (recurrent state tensors, smoothing history) across
// chunks, so that independent audio streams never influence each other.
//
// VAD is synchronous: Probability returns as soon as the chunk has been scored,
// which keeps it usable inside the audio dispatch loop that gates STT input.
//
// Implementations must be safe for concurrent use across different sessions.
// A single Session must not be shared across goroutines.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// chunks passed to Probability. Silero supports 8000 and 16000.
	SampleRate int

	// Threshold is the backend's own speech threshold, used by detectors that
	// make a binary decision internally. Range: [0.0, 1.0]. Callers that apply
	// their own hysteresis on the returned probability may leave it zero, in
	// which case the backend default applies.
	Threshold float64
}

// Session scores consecutive chunks of one audio stream.
type Session interface {
	// Probability returns the probability in [0, 1] that chunk contains
	// speech. chunk holds mono float samples in [-1, 1] at the configured
	// sample rate. State carried over from previous chunks is updated.
	Probability(chunk []float32) (float64, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases all resources held by the session. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use: multiple goroutines may call NewSession simultaneously.
type Engine interface {
	// NewSession creates a new VAD session ready to accept audio chunks.
	// Returns an error if the configuration is unsupported.
	NewSession(cfg Config) (Session, error)
}
