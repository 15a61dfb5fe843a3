package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/webai/pkg/provider/llm"
	"github.com/MrWong99/webai/pkg/types"
)

// TokenCounter estimates the prompt size of messages. [llm.Provider.CountTokens]
// satisfies it.
type TokenCounter func(messages []types.Message) (int, error)

// Config configures a [Conversation].
type Config struct {
	// SessionID keys journal entries. Required when Store is set.
	SessionID string

	// SystemPrompt is always the first message and is never trimmed.
	SystemPrompt string

	// MaxTokens is the model's context window. Zero disables trimming.
	MaxTokens int

	// ThresholdRatio is the fraction of MaxTokens at which the oldest turns
	// are dropped. Defaults to 0.75 if zero or negative.
	ThresholdRatio float64

	// Count estimates token usage. Defaults to [llm.EstimateTokens].
	Count TokenCounter

	// Store, if set, journals every pushed message.
	Store Store
}

// Conversation is the in-memory message list of one voice session. All
// methods are safe for concurrent use.
type Conversation struct {
	cfg Config

	mu       sync.Mutex
	messages []types.Message
}

// New creates a Conversation holding only the system prompt.
func New(cfg Config) *Conversation {
	if cfg.ThresholdRatio <= 0 {
		cfg.ThresholdRatio = 0.75
	}
	if cfg.Count == nil {
		cfg.Count = func(m []types.Message) (int, error) { return llm.EstimateTokens(m), nil }
	}
	c := &Conversation{cfg: cfg}
	c.messages = c.initial()
	return c
}

func (c *Conversation) initial() []types.Message {
	if c.cfg.SystemPrompt == "" {
		return nil
	}
	return []types.Message{{Role: types.RoleSystem, Content: c.cfg.SystemPrompt}}
}

// Push appends a message, journals it, and trims the oldest turns if the
// context budget is exceeded. The message is kept in memory even when the
// journal write fails; that error is returned.
func (c *Conversation) Push(ctx context.Context, role, content string) error {
	c.mu.Lock()
	c.messages = append(c.messages, types.Message{Role: role, Content: content})
	c.trimLocked()
	c.mu.Unlock()

	if c.cfg.Store == nil {
		return nil
	}
	if err := c.cfg.Store.Append(ctx, Entry{SessionID: c.cfg.SessionID, Role: role, Content: content}); err != nil {
		return fmt.Errorf("history: journal %s message: %w", role, err)
	}
	return nil
}

// Messages returns a copy of the current working set, system prompt first.
func (c *Conversation) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages including the system prompt.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Reset drops every turn and keeps the system prompt. The journal is left
// untouched.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = c.initial()
}

// trimLocked drops the oldest non-system messages until the estimate fits
// the budget. The newest message always survives. Must be called with c.mu
// held.
func (c *Conversation) trimLocked() {
	if c.cfg.MaxTokens <= 0 {
		return
	}
	budget := int(float64(c.cfg.MaxTokens) * c.cfg.ThresholdRatio)

	first := 0
	if len(c.messages) > 0 && c.messages[0].Role == types.RoleSystem {
		first = 1
	}
	for len(c.messages)-first > 1 {
		n, err := c.cfg.Count(c.messages)
		if err != nil {
			n = llm.EstimateTokens(c.messages)
		}
		if n <= budget {
			return
		}
		c.messages = append(c.messages[:first], c.messages[first+1:]...)
	}
}
