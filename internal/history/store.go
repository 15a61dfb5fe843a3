// Package history keeps the conversation of a voice session and optionally
// journals it to a [Store].
//
// A [Conversation] is the working set handed to the LLM: the system prompt
// followed by user and assistant turns. When the estimated token count
// exceeds the model's context budget, the oldest turns are dropped. The
// Store sees every message regardless of trimming, so a journal holds the
// full session.
package history

import (
	"context"
	"time"

	"github.com/MrWong99/webai/pkg/types"
)

// Entry is one journaled message.
type Entry struct {
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Message converts e to a [types.Message].
func (e Entry) Message() types.Message {
	return types.Message{Role: e.Role, Content: e.Content}
}

// Store persists conversation messages per session. Implementations must be
// safe for concurrent use.
type Store interface {
	// Append journals one message for sessionID.
	Append(ctx context.Context, e Entry) error

	// List returns every entry of sessionID in insertion order.
	List(ctx context.Context, sessionID string) ([]Entry, error)

	// Clear removes all entries of sessionID.
	Clear(ctx context.Context, sessionID string) error
}
