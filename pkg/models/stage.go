package models

import "github.com/tarsy-oss/tarsy/pkg/config"

// StageStatus is the terminal status of a single stage execution.
type StageStatus string

const (
	StageStatusSuccess StageStatus = "success"
	StageStatusError   StageStatus = "error"
)

// ToolInvocation records one MCP tool call made during a stage.
type ToolInvocation struct {
	Server     string         `json:"server"`
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     string         `json:"result,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// StageResult is what an agent returns for one stage. The schema is
// intentionally open: later stages must tolerate missing fields.
type StageResult struct {
	Status StageStatus `json:"status"`

	// Analysis text, present for strategies that produce one
	Analysis string `json:"analysis,omitempty"`

	// Error description when Status is error
	ErrorMessage string `json:"error_message,omitempty"`

	// MCP output collected during the stage, keyed by server id
	MCPResults map[string][]ToolInvocation `json:"mcp_results,omitempty"`

	// Strategy that drove the stage
	Strategy config.IterationStrategy `json:"strategy"`

	// Completion timestamp, microseconds since epoch
	TimestampUs int64 `json:"timestamp_us"`
}

// Succeeded reports whether the stage completed successfully.
func (r *StageResult) Succeeded() bool {
	return r != nil && r.Status == StageStatusSuccess
}
