// Package controller implements the iteration strategies that drive a stage
// to completion: bounded cooperative loops around the LLM with tool access
// mediated by the agent's MCP tool set.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tarsy-oss/tarsy/pkg/agent"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// ReActController implements the tool-driven loop shared by the react,
// react-tools, and react-tools-partial strategies. The differences are
// confined to the prompt template and the accepted terminator.
type ReActController struct {
	// collectOnly accepts DONE instead of a final answer and produces no
	// analysis (react-tools)
	collectOnly bool
}

// NewReActController creates the standard ReAct controller.
func NewReActController() *ReActController {
	return &ReActController{}
}

// NewReActToolsController creates the data-collection-only variant.
func NewReActToolsController() *ReActController {
	return &ReActController{collectOnly: true}
}

// Run executes the bounded cooperative loop:
//
//	repeat up to MaxIterations:
//	  response = LLM.complete(conversation)
//	  TOOL_CALL    → execute, append observation, continue
//	  FINAL_ANSWER → success
//	  UNPARSEABLE  → correction hint (2 soft retries), then failure
//	exhausted budget → failure
func (c *ReActController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*models.StageResult, error) {
	logger := slog.With(
		"session_id", execCtx.SessionID,
		"stage_execution_id", execCtx.StageExecutionID,
		"strategy", execCtx.Strategy,
	)

	tools, err := execCtx.Tools.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	messages := execCtx.Prompts.BuildInitialMessages(execCtx, tools)
	recorder := newCallRecorder()
	softRetries := 0

	for iteration := 1; iteration <= execCtx.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		completion, err := execCtx.LLM.Complete(ctx, messages)
		if err != nil {
			// Counted against the budget like any other iteration failure
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("LLM call failed, continuing loop", "iteration", iteration, "error", err)
			messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: formatErrorObservation(err)})
			continue
		}

		messages = append(messages, models.ConversationMessage{Role: models.RoleAssistant, Content: completion.Text})
		parsed := ParseReActResponse(completion.Text)

		switch {
		case c.collectOnly && parsed.IsDone:
			logger.Info("Data collection complete", "iterations", iteration)
			return successResult("", recorder), nil

		case parsed.IsFinalAnswer:
			if c.collectOnly {
				// Treat a stray analysis as completion of collection; the
				// analysis itself is intentionally dropped
				logger.Info("Collection-only stage produced an analysis, discarding text", "iterations", iteration)
				return successResult("", recorder), nil
			}
			logger.Info("Final answer produced", "iterations", iteration)
			return successResult(parsed.FinalAnswer, recorder), nil

		case parsed.HasAction:
			observation := c.executeTool(ctx, execCtx, recorder, parsed)
			messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: observation})

		default: // unparseable
			if softRetries < maxSoftRetries {
				softRetries++
				logger.Warn("Unparseable response, sending correction hint",
					"iteration", iteration, "soft_retries", softRetries, "reason", parsed.ErrorMessage)
				messages = append(messages, models.ConversationMessage{
					Role:    models.RoleUser,
					Content: execCtx.Prompts.BuildCorrectionHint(execCtx.Strategy),
				})
				continue
			}
			return failureResult(fmt.Sprintf("unparseable response: %s", parsed.ErrorMessage), recorder), nil
		}
	}

	return failureResult(fmt.Sprintf("iteration budget exhausted after %d iterations", execCtx.MaxIterations), recorder), nil
}

// executeTool validates and runs one tool call, returning the observation to
// append. Catalog misses and tool errors both continue the loop.
func (c *ReActController) executeTool(ctx context.Context, execCtx *agent.ExecutionContext, recorder *callRecorder, parsed *ParsedResponse) string {
	server, tool, ok := splitToolName(parsed.Action)
	if !ok {
		// No server prefix — surface as a catalog miss with the full list
		catalog, _ := execCtx.Tools.ListTools(ctx)
		available := make([]string, 0, len(catalog))
		for _, def := range catalog {
			available = append(available, def.Name())
		}
		return fmt.Sprintf("Observation: ToolNotAvailable{server: %q, tool: %q, available: [%s]} — tools must be called in 'server.tool' format.",
			"", parsed.Action, joinSorted(available))
	}

	start := time.Now()
	result, err := execCtx.Tools.Call(ctx, server, tool, parsed.ActionInput)
	if err != nil {
		if notAvailable := asToolNotAvailable(err); notAvailable != nil {
			return formatToolNotAvailable(notAvailable)
		}
		recorder.record(server, tool, parsed.ActionInput, err.Error(), true, time.Since(start))
		return formatErrorObservation(err)
	}

	recorder.record(server, tool, parsed.ActionInput, result.Content, result.IsError, time.Since(start))
	return formatObservation(result.Content)
}
