package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tarsy-oss/tarsy/pkg/hooks"
)

// writeTimeout bounds each audit write issued from the hook bus dispatcher.
const writeTimeout = 10 * time.Second

// Recorder is the hook-bus subscriber that persists interaction events.
// The bus dispatcher serializes invocations, so writes land in emission
// order; the store's session clock turns that order into strictly
// monotonic timestamps.
type Recorder struct {
	store Store
}

// NewRecorder creates a Recorder writing to the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Name identifies the subscriber in bus logs.
func (r *Recorder) Name() string { return "audit" }

// OnLLMInteraction persists one LLM round-trip.
func (r *Recorder) OnLLMInteraction(event hooks.LLMInteractionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	messages, err := json.Marshal(event.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal LLM messages: %w", err)
	}

	interaction := LLMInteraction{
		SessionID:        event.SessionID,
		StageExecutionID: optionalID(event.StageExecutionID),
		TsUs:             event.Timestamp.UnixMicro(),
		Model:            event.Model,
		MessagesIn:       messages,
		ResponseOut:      event.Response,
		DurationMs:       event.DurationMs,
		Error:            optionalID(event.Error),
	}
	if event.TotalTokens > 0 {
		interaction.InputTokens = &event.InputTokens
		interaction.OutputTokens = &event.OutputTokens
		interaction.TotalTokens = &event.TotalTokens
	}
	return r.store.AppendLLMInteraction(ctx, interaction)
}

// OnMCPInteraction persists one MCP operation.
func (r *Recorder) OnMCPInteraction(event hooks.MCPInteractionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var arguments json.RawMessage
	if len(event.Arguments) > 0 {
		data, err := json.Marshal(event.Arguments)
		if err != nil {
			return fmt.Errorf("failed to marshal tool arguments: %w", err)
		}
		arguments = data
	}

	interactionType := event.InteractionType
	if interactionType == "" {
		interactionType = "tool_call"
	}

	return r.store.AppendMCPInteraction(ctx, MCPInteraction{
		SessionID:        event.SessionID,
		StageExecutionID: optionalID(event.StageExecutionID),
		TsUs:             event.Timestamp.UnixMicro(),
		InteractionType:  interactionType,
		ServerID:         event.ServerID,
		ToolName:         event.ToolName,
		Arguments:        arguments,
		Result:           event.Result,
		DurationMs:       event.DurationMs,
		Error:            optionalID(event.Error),
	})
}

// OnSessionLifecycle persists one lifecycle transition.
func (r *Recorder) OnSessionLifecycle(event hooks.SessionLifecycleEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	return r.store.AppendLifecycleEvent(ctx, LifecycleEvent{
		SessionID:        event.SessionID,
		StageExecutionID: optionalID(event.StageExecutionID),
		TsUs:             event.Timestamp.UnixMicro(),
		Kind:             event.Kind,
		Detail:           event.Detail,
	})
}

// optionalID maps the empty string to nil for nullable columns.
func optionalID(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
