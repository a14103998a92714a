package controller

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tarsy-oss/tarsy/pkg/mcp"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// maxSoftRetries bounds correction hints for unparseable responses before
// the stage fails.
const maxSoftRetries = 2

// callRecorder accumulates the tool calls a stage makes, keyed by server id,
// so they land in the stage output for later stages to consume.
type callRecorder struct {
	results map[string][]models.ToolInvocation
}

func newCallRecorder() *callRecorder {
	return &callRecorder{results: make(map[string][]models.ToolInvocation)}
}

func (r *callRecorder) record(server, tool string, args map[string]any, result string, isError bool, duration time.Duration) {
	r.results[server] = append(r.results[server], models.ToolInvocation{
		Server:     server,
		Tool:       tool,
		Arguments:  args,
		Result:     result,
		IsError:    isError,
		DurationMs: duration.Milliseconds(),
	})
}

// mcpResults returns the accumulated calls, or nil when none were made.
func (r *callRecorder) mcpResults() map[string][]models.ToolInvocation {
	if len(r.results) == 0 {
		return nil
	}
	return r.results
}

// joinSorted joins names after sorting, for deterministic observations.
func joinSorted(names []string) string {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

// splitToolName splits "server.tool" at the first dot. ok is false when the
// name carries no server prefix.
func splitToolName(name string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(name, ".")
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// formatObservation wraps tool output as the next user turn.
func formatObservation(content string) string {
	return "Observation: " + content
}

// formatErrorObservation surfaces an LLM/tool error back into the loop.
func formatErrorObservation(err error) string {
	return fmt.Sprintf("Observation: Error: %v. You can retry, try another tool, or conclude with what you have.", err)
}

// formatToolNotAvailable surfaces a catalog miss as a structured observation.
func formatToolNotAvailable(err *mcp.ToolNotAvailableError) string {
	return fmt.Sprintf("Observation: ToolNotAvailable{server: %q, tool: %q, available: [%s]}",
		err.Server, err.Tool, strings.Join(err.Available, ", "))
}

// asToolNotAvailable unwraps a *mcp.ToolNotAvailableError, if present.
func asToolNotAvailable(err error) *mcp.ToolNotAvailableError {
	var notAvailable *mcp.ToolNotAvailableError
	if errors.As(err, &notAvailable) {
		return notAvailable
	}
	return nil
}

// successResult builds a success StageResult.
func successResult(analysis string, recorder *callRecorder) *models.StageResult {
	return &models.StageResult{
		Status:      models.StageStatusSuccess,
		Analysis:    analysis,
		MCPResults:  recorder.mcpResults(),
		TimestampUs: time.Now().UnixMicro(),
	}
}

// failureResult builds an error StageResult.
func failureResult(message string, recorder *callRecorder) *models.StageResult {
	return &models.StageResult{
		Status:       models.StageStatusError,
		ErrorMessage: message,
		MCPResults:   recorder.mcpResults(),
		TimestampUs:  time.Now().UnixMicro(),
	}
}
