// Package audit provides append-mostly persistence for sessions, stage
// executions, and interactions, with microsecond-monotonic per-session
// timestamps and pagination queries. It is the system of record from which
// a session's full timeline is reconstructible.
package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tarsy-oss/tarsy/pkg/models"
)

var (
	// ErrSessionNotFound indicates the session does not exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrStageExecutionNotFound indicates the stage execution does not exist
	ErrStageExecutionNotFound = errors.New("stage execution not found")

	// ErrOutputErrorExclusive indicates a finalize call violated the
	// stage_output XOR error_message invariant
	ErrOutputErrorExclusive = errors.New("stage_output and error_message are mutually exclusive")
)

// Session is the persistent record of one alert's end-to-end processing.
type Session struct {
	ID              string               `json:"session_id"`
	AlertID         string               `json:"alert_id"`
	AlertType       string               `json:"alert_type"`
	ChainID         string               `json:"chain_id"`
	ChainDefinition json.RawMessage      `json:"chain_definition,omitempty"`
	Status          models.SessionStatus `json:"status"`

	CurrentStageIndex int    `json:"current_stage_index"`
	CurrentStageID    string `json:"current_stage_id,omitempty"`

	StartedAtUs   int64  `json:"started_at_us"`
	CompletedAtUs *int64 `json:"completed_at_us,omitempty"`

	FinalAnalysis *string `json:"final_analysis,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
}

// StageExecution is the persistent record of one stage run within a session.
type StageExecution struct {
	ID         string `json:"execution_id"`
	SessionID  string `json:"session_id"`
	StageID    string `json:"stage_id"` // stage name from the chain definition
	StageIndex int    `json:"stage_index"`
	AgentID    string `json:"agent_id"`

	Status models.ExecutionStatus `json:"status"`

	StartedAtUs   int64  `json:"started_at_us"`
	CompletedAtUs *int64 `json:"completed_at_us,omitempty"`
	DurationMs    *int64 `json:"duration_ms,omitempty"`

	// StageOutput and ErrorMessage are mutually exclusive once terminal.
	StageOutput  json.RawMessage `json:"stage_output,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// LLMInteraction is one recorded LLM round-trip. Append-only.
type LLMInteraction struct {
	ID               int64           `json:"id"`
	SessionID        string          `json:"session_id"`
	StageExecutionID *string         `json:"stage_execution_id,omitempty"`
	TsUs             int64           `json:"ts_us"`
	Model            string          `json:"model"`
	MessagesIn       json.RawMessage `json:"messages_in"`
	ResponseOut      string          `json:"response_out"`
	InputTokens      *int            `json:"input_tokens,omitempty"`
	OutputTokens     *int            `json:"output_tokens,omitempty"`
	TotalTokens      *int            `json:"total_tokens,omitempty"`
	DurationMs       int64           `json:"duration_ms"`
	Error            *string         `json:"error,omitempty"`
}

// MCPInteraction is one recorded MCP operation. Append-only.
type MCPInteraction struct {
	ID               int64           `json:"id"`
	SessionID        string          `json:"session_id"`
	StageExecutionID *string         `json:"stage_execution_id,omitempty"`
	TsUs             int64           `json:"ts_us"`
	InteractionType  string          `json:"interaction_type"` // "tool_call" or "tool_list"
	ServerID         string          `json:"server_id"`
	ToolName         string          `json:"tool_name,omitempty"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	Result           string          `json:"result,omitempty"`
	DurationMs       int64           `json:"duration_ms"`
	Error            *string         `json:"error,omitempty"`
}

// LifecycleEvent is one recorded session/stage transition. Append-only.
type LifecycleEvent struct {
	ID               int64   `json:"id"`
	SessionID        string  `json:"session_id"`
	StageExecutionID *string `json:"stage_execution_id,omitempty"`
	TsUs             int64   `json:"ts_us"`
	Kind             string  `json:"kind"`
	Detail           string  `json:"detail,omitempty"`
}

// TimelineEntry is one element of a session's merged timeline, ordered by
// ts_us ascending with ties broken by insertion id.
type TimelineEntry struct {
	TsUs int64  `json:"ts_us"`
	Type string `json:"type"` // "llm", "mcp", "lifecycle"

	LLM       *LLMInteraction `json:"llm,omitempty"`
	MCP       *MCPInteraction `json:"mcp,omitempty"`
	Lifecycle *LifecycleEvent `json:"lifecycle,omitempty"`
}

// SessionTimeline is a session with its stages and merged interactions.
type SessionTimeline struct {
	Session  *Session          `json:"session"`
	Stages   []*StageExecution `json:"stages"`
	Timeline []TimelineEntry   `json:"timeline"`
}

// SessionPage is one page of a session listing, newest-first.
type SessionPage struct {
	Sessions   []*Session `json:"sessions"`
	TotalCount int        `json:"total_count"`
	Page       int        `json:"page"`
	Size       int        `json:"size"`
}

// CreateSessionParams are the inputs to CreateSession.
type CreateSessionParams struct {
	SessionID       string
	AlertID         string
	AlertType       string
	ChainID         string
	ChainDefinition json.RawMessage
	Status          models.SessionStatus // defaults to pending when empty
}

// CreateStageExecutionParams are the inputs to CreateStageExecution.
type CreateStageExecutionParams struct {
	ExecutionID string
	SessionID   string
	StageID     string
	StageIndex  int
	AgentID     string
}

// FinalizeStageParams are the inputs to FinalizeStageExecution. Exactly one
// of StageOutput / ErrorMessage must be set.
type FinalizeStageParams struct {
	Status       models.ExecutionStatus
	StageOutput  json.RawMessage
	ErrorMessage string
}

// Store is the audit persistence surface. Writes are serialized per session
// to maintain monotonic timestamps; reads are independent.
type Store interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
	UpdateSessionCurrentStage(ctx context.Context, sessionID string, stageIndex int, stageID string) error
	// FinalizeSession is idempotent: the second call on a terminal session is a no-op.
	FinalizeSession(ctx context.Context, sessionID string, status models.SessionStatus, finalAnalysis, errorMessage string) error

	CreateStageExecution(ctx context.Context, params CreateStageExecutionParams) (*StageExecution, error)
	FinalizeStageExecution(ctx context.Context, executionID string, params FinalizeStageParams) error

	AppendLLMInteraction(ctx context.Context, interaction LLMInteraction) error
	AppendMCPInteraction(ctx context.Context, interaction MCPInteraction) error
	AppendLifecycleEvent(ctx context.Context, event LifecycleEvent) error

	ListSessions(ctx context.Context, filters models.SessionFilters) (*SessionPage, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	GetSessionWithTimeline(ctx context.Context, sessionID string) (*SessionTimeline, error)

	// DeleteSessionsBefore removes terminal sessions started before cutoffUs
	// (retention sweeping). Returns the number of sessions deleted.
	DeleteSessionsBefore(ctx context.Context, cutoffUs int64) (int, error)

	Ping(ctx context.Context) error
	Close()
}

// Default and maximum page sizes for ListSessions.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// normalizePage applies pagination defaults and caps.
func normalizePage(filters *models.SessionFilters) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Size < 1 {
		filters.Size = DefaultPageSize
	}
	if filters.Size > MaxPageSize {
		filters.Size = MaxPageSize
	}
}
