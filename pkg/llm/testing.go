package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tarsy-oss/tarsy/pkg/models"
)

// ScriptEntry defines a single scripted LLM response.
type ScriptEntry struct {
	Text  string // Response content
	Err   error  // Return error instead of a response
	Block bool   // Block until ctx is cancelled, then return ctx.Err()
}

// ScriptedClient implements Client with pre-scripted responses consumed in
// order. The test-side counterpart of real provider adapters.
type ScriptedClient struct {
	mu      sync.Mutex
	entries []ScriptEntry
	index   int

	// Captured inputs for assertions
	Calls [][]models.ConversationMessage
}

// NewScriptedClient creates a client that replays the given entries.
func NewScriptedClient(entries ...ScriptEntry) *ScriptedClient {
	return &ScriptedClient{entries: entries}
}

// Add appends another scripted entry.
func (c *ScriptedClient) Add(entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

// CallCount returns how many times Complete was invoked.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Complete implements Client.
func (c *ScriptedClient) Complete(ctx context.Context, messages []models.ConversationMessage) (*Completion, error) {
	c.mu.Lock()
	copied := make([]models.ConversationMessage, len(messages))
	copy(copied, messages)
	c.Calls = append(c.Calls, copied)

	if c.index >= len(c.entries) {
		c.mu.Unlock()
		return nil, fmt.Errorf("scripted LLM exhausted after %d calls", len(c.entries))
	}
	entry := c.entries[c.index]
	c.index++
	c.mu.Unlock()

	if entry.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if entry.Err != nil {
		return nil, entry.Err
	}
	return &Completion{
		Text:         entry.Text,
		InputTokens:  len(messages),
		OutputTokens: 1,
		TotalTokens:  len(messages) + 1,
	}, nil
}
