// Package hooks provides the in-process event bus that fans out interaction
// events (LLM round-trips, MCP calls, lifecycle transitions) to subscribers
// such as the audit writer and the dashboard broadcaster. Emission never
// blocks the caller beyond the enqueue, and a failing subscriber never
// prevents another subscriber from running.
package hooks

import (
	"time"

	"github.com/tarsy-oss/tarsy/pkg/models"
)

// Lifecycle event kinds.
const (
	LifecycleSessionStarted     = "session.started"
	LifecycleSessionCompleted   = "session.completed"
	LifecycleStageStarted       = "stage.started"
	LifecycleStageCompleted     = "stage.completed"
	LifecycleRunbookFetchFailed = "runbook.fetch_failed"
)

// LLMInteractionEvent records one LLM round-trip (success or error).
type LLMInteractionEvent struct {
	SessionID        string
	StageExecutionID string // empty when emitted outside an active stage
	Timestamp        time.Time

	Model    string
	Messages []models.ConversationMessage
	Response string

	InputTokens  int
	OutputTokens int
	TotalTokens  int

	DurationMs int64
	Error      string // empty on success
}

// MCPInteractionEvent records one MCP operation (tool call or tool list).
type MCPInteractionEvent struct {
	SessionID        string
	StageExecutionID string // empty when emitted outside an active stage
	Timestamp        time.Time

	// "tool_call" or "tool_list"
	InteractionType string

	ServerID  string
	ToolName  string // empty for tool_list
	Arguments map[string]any
	Result    string

	DurationMs int64
	Error      string // empty on success
}

// SessionLifecycleEvent records a session or stage state transition.
type SessionLifecycleEvent struct {
	SessionID        string
	StageExecutionID string
	Timestamp        time.Time

	Kind   string // one of the Lifecycle* constants
	Detail string // human-readable context (error text, stage name, ...)

	// Progress snapshot for the dashboard stream
	ChainID         string
	CurrentStage    string
	TotalStages     int
	CompletedStages int
	Status          string
}

// Subscriber receives events from the bus. Implementations must be safe for
// serialized invocation from the bus dispatcher goroutine.
type Subscriber interface {
	OnLLMInteraction(event LLMInteractionEvent) error
	OnMCPInteraction(event MCPInteractionEvent) error
	OnSessionLifecycle(event SessionLifecycleEvent) error
}
