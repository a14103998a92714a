// Package prompt assembles the LLM context for agent executions: alert
// payload, runbook, prior-stage MCP output, agent instructions, and the
// strategy-specific loop format.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tarsy-oss/tarsy/pkg/agent"
	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/mcp"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// Compile-time check that Builder implements agent.PromptBuilder.
var _ agent.PromptBuilder = (*Builder)(nil)

// Builder builds prompts for all iteration strategies. Stateless and shared
// across executions.
type Builder struct{}

// NewBuilder creates a prompt builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildInitialMessages assembles the opening conversation for a stage.
func (b *Builder) BuildInitialMessages(execCtx *agent.ExecutionContext, tools []mcp.ToolDefinition) []models.ConversationMessage {
	return []models.ConversationMessage{
		{Role: models.RoleSystem, Content: b.systemPrompt(execCtx, tools)},
		{Role: models.RoleUser, Content: b.taskPrompt(execCtx)},
	}
}

// BuildCorrectionHint produces the feedback appended after an unparseable
// response.
func (b *Builder) BuildCorrectionHint(strategy config.IterationStrategy) string {
	switch strategy {
	case config.IterationStrategyReactTools:
		return "Your response did not follow the expected format. Use 'Action:' with 'Action Input:' (a JSON object) to call a tool, or reply with a final line containing exactly DONE when data collection is complete."
	case config.IterationStrategyReactFinalAnalysis:
		return "Your response did not follow the expected format. Conclude with 'Final Answer:' followed by your complete analysis."
	case config.IterationStrategyRegular:
		return "Your response did not follow the expected format. Either call a tool with 'Action:' and 'Action Input:' (a JSON object), or reply with your complete analysis as plain text without an Action line."
	default:
		return "Your response did not follow the ReAct format. Use 'Thought:', then either 'Action:' + 'Action Input:' (a JSON object) to call a tool, or 'Final Answer:' to conclude."
	}
}

// systemPrompt combines persona, strategy format, instructions, and the tool
// catalog.
func (b *Builder) systemPrompt(execCtx *agent.ExecutionContext, tools []mcp.ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString(generalInstructions)
	sb.WriteString("\n\n")

	switch execCtx.Strategy {
	case config.IterationStrategyReact:
		sb.WriteString(reactFormatTemplate)
	case config.IterationStrategyReactTools:
		sb.WriteString(reactFormatTemplate)
		sb.WriteString("\n\n")
		sb.WriteString(reactToolsTermination)
	case config.IterationStrategyReactToolsPartial:
		sb.WriteString(reactFormatTemplate)
		sb.WriteString("\n\n")
		sb.WriteString(reactToolsPartialScope)
	case config.IterationStrategyReactFinalAnalysis:
		sb.WriteString(finalAnalysisTemplate)
	case config.IterationStrategyRegular:
		sb.WriteString(regularTemplate)
	}

	if execCtx.CustomInstructions != "" {
		sb.WriteString("\n\n## Agent Instructions\n")
		sb.WriteString(execCtx.CustomInstructions)
	}

	if len(execCtx.ServerInstructions) > 0 {
		sb.WriteString("\n\n## Server Instructions\n")
		for _, serverID := range sortedKeys(execCtx.ServerInstructions) {
			fmt.Fprintf(&sb, "### %s\n%s\n", serverID, execCtx.ServerInstructions[serverID])
		}
	}

	if execCtx.Strategy.AllowsTools() {
		sb.WriteString("\n\n## Available Tools\n")
		if len(tools) == 0 {
			sb.WriteString("(no tools available)\n")
		}
		for _, tool := range tools {
			fmt.Fprintf(&sb, "- %s: %s\n", tool.Name(), tool.Description)
			if tool.InputSchema != "" {
				fmt.Fprintf(&sb, "  Parameters: %s\n", tool.InputSchema)
			}
		}
	}

	return sb.String()
}

// taskPrompt carries the alert payload, runbook, and accumulated MCP output.
func (b *Builder) taskPrompt(execCtx *agent.ExecutionContext) string {
	pd := execCtx.ProcessingData

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Alert: %s\n", pd.AlertType)
	fmt.Fprintf(&sb, "Severity: %s | Environment: %s\n\n", pd.Severity(), pd.Environment())

	sb.WriteString("## Alert Data\n")
	sb.WriteString(FormatAlertData(pd.AlertData))

	if pd.RunbookContent != "" {
		sb.WriteString("\n## Runbook\n")
		sb.WriteString(pd.RunbookContent)
		sb.WriteString("\n")
	}

	if mcpResults := pd.GetAllMCPResults(); len(mcpResults) > 0 {
		sb.WriteString("\n## Data Collected by Previous Stages\n")
		sb.WriteString(FormatMCPResults(mcpResults))
	}

	if execCtx.Strategy == config.IterationStrategyReactFinalAnalysis {
		sb.WriteString("\nProvide the comprehensive final analysis now.")
	} else {
		fmt.Fprintf(&sb, "\nQuestion: What is the root cause of this %s alert and how should it be remediated?", pd.AlertType)
	}

	return sb.String()
}

// FormatAlertData renders the opaque alert payload with deterministic key
// order. Values are JSON-encoded so nested structures stay readable.
func FormatAlertData(alertData map[string]any) string {
	if len(alertData) == 0 {
		return "(no alert data)\n"
	}

	var sb strings.Builder
	for _, key := range sortedKeysAny(alertData) {
		value, err := json.Marshal(alertData[key])
		if err != nil {
			value = []byte(fmt.Sprintf("%v", alertData[key]))
		}
		fmt.Fprintf(&sb, "%s: %s\n", key, value)
	}
	return sb.String()
}

// FormatMCPResults renders merged prior-stage tool output grouped by server.
func FormatMCPResults(results map[string][]models.ToolInvocation) string {
	var sb strings.Builder
	servers := make([]string, 0, len(results))
	for server := range results {
		servers = append(servers, server)
	}
	sort.Strings(servers)

	for _, server := range servers {
		fmt.Fprintf(&sb, "### %s\n", server)
		for _, call := range results[server] {
			args, _ := json.Marshal(call.Arguments)
			fmt.Fprintf(&sb, "- %s(%s)", call.Tool, args)
			if call.IsError {
				sb.WriteString(" [error]")
			}
			sb.WriteString(":\n")
			sb.WriteString(indent(call.Result, "  "))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysAny(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
