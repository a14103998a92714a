package agent

import (
	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/llm"
	"github.com/tarsy-oss/tarsy/pkg/mcp"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// ExecutionContext carries all dependencies and state needed by a controller
// during one stage execution. Created by the runtime per stage.
type ExecutionContext struct {
	// Identity
	SessionID        string
	StageExecutionID string
	StageName        string
	AgentName        string

	// Resolved configuration
	Strategy      config.IterationStrategy
	MaxIterations int

	// Alert state (exclusively owned by the orchestrator task; controllers
	// read it and never mutate)
	ProcessingData *models.AlertProcessingData

	// Prompt inputs
	CustomInstructions string
	ServerInstructions map[string]string // serverID → instructions

	// Dependencies (injected by the runtime)
	LLM     llm.Client
	Tools   mcp.ToolSet
	Prompts PromptBuilder
}

// PromptBuilder builds prompt text for controllers. Implemented by
// prompt.Builder; defined as an interface here to avoid a circular import
// between pkg/agent and pkg/agent/prompt.
type PromptBuilder interface {
	// BuildInitialMessages assembles the opening conversation for the
	// stage's strategy: system prompt + task message.
	BuildInitialMessages(execCtx *ExecutionContext, tools []mcp.ToolDefinition) []models.ConversationMessage

	// BuildCorrectionHint produces the feedback appended after an
	// unparseable response.
	BuildCorrectionHint(strategy config.IterationStrategy) string
}
