package llm

import (
	"context"
	"time"

	"github.com/tarsy-oss/tarsy/pkg/hooks"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// instrumented wraps a Client so every round-trip (success or error) is
// emitted on the hook bus and bounded by the per-request budget.
type instrumented struct {
	inner   Client
	bus     *hooks.Bus
	model   string
	timeout time.Duration
}

// WithHooks returns a Client that emits an LLMInteractionEvent per call and
// applies timeout as the per-request deadline (<=0 disables the deadline).
// The model name is recorded on every event for the audit trail.
func WithHooks(inner Client, bus *hooks.Bus, model string, timeout time.Duration) Client {
	return &instrumented{inner: inner, bus: bus, model: model, timeout: timeout}
}

// Complete implements Client.
func (c *instrumented) Complete(ctx context.Context, messages []models.ConversationMessage) (*Completion, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := c.inner.Complete(ctx, messages)
	durationMs := time.Since(start).Milliseconds()

	event := hooks.LLMInteractionEvent{
		Timestamp:  start,
		Model:      c.model,
		Messages:   messages,
		DurationMs: durationMs,
	}
	if err != nil {
		event.Error = err.Error()
	} else {
		event.Response = completion.Text
		event.InputTokens = completion.InputTokens
		event.OutputTokens = completion.OutputTokens
		event.TotalTokens = completion.TotalTokens
		if completion.Model != "" {
			event.Model = completion.Model
		}
	}
	c.bus.EmitLLM(ctx, event)

	return completion, err
}
