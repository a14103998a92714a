// Package llm defines the unified completion surface across LLM providers.
// Provider adapters live outside the core; the pipeline only depends on the
// Client interface, and WithHooks instruments every round-trip for the
// audit trail.
package llm

import (
	"context"
	"errors"

	"github.com/tarsy-oss/tarsy/pkg/models"
)

// ErrEmptyResponse indicates the provider returned no text.
var ErrEmptyResponse = errors.New("LLM returned empty response")

// Completion is the result of one LLM round-trip.
type Completion struct {
	Text  string
	Model string

	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Client is the unified complete(messages) surface across providers.
type Client interface {
	// Complete sends a conversation and returns the model's text response.
	// Implementations must honor ctx cancellation and deadlines.
	Complete(ctx context.Context, messages []models.ConversationMessage) (*Completion, error)
}
