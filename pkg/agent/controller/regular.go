package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tarsy-oss/tarsy/pkg/agent"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// RegularController implements the plain prompt loop: the LLM may request
// tools with Action/Action Input lines, and any response without an Action
// is taken as the complete analysis.
type RegularController struct{}

// NewRegularController creates a regular controller.
func NewRegularController() *RegularController {
	return &RegularController{}
}

// Run executes the loop.
func (c *RegularController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*models.StageResult, error) {
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
	react := &ReActController{}

	for iteration := 1; iteration <= execCtx.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		completion, err := execCtx.LLM.Complete(ctx, messages)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("LLM call failed, continuing loop", "iteration", iteration, "error", err)
			messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: formatErrorObservation(err)})
			continue
		}

		messages = append(messages, models.ConversationMessage{Role: models.RoleAssistant, Content: completion.Text})
		parsed := parseRegularResponse(completion.Text)

		switch {
		case parsed.HasAction:
			observation := react.executeTool(ctx, execCtx, recorder, parsed)
			messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: observation})

		case parsed.IsFinalAnswer:
			logger.Info("Analysis produced", "iterations", iteration)
			return successResult(parsed.FinalAnswer, recorder), nil

		default:
			if softRetries < maxSoftRetries {
				softRetries++
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

// parseRegularResponse interprets a non-ReAct response: an Action block is a
// tool call, anything else is the analysis.
func parseRegularResponse(text string) *ParsedResponse {
	if strings.TrimSpace(text) == "" {
		return &ParsedResponse{IsUnparseable: true, ErrorMessage: "empty response"}
	}

	parsed := ParseReActResponse(text)
	if parsed.HasAction || parsed.IsFinalAnswer {
		return parsed
	}
	if parsed.IsUnparseable && parsed.Action != "" {
		// Malformed Action Input — keep it unparseable so the model retries
		return parsed
	}

	// Plain text without an Action is the analysis
	return &ParsedResponse{IsFinalAnswer: true, FinalAnswer: strings.TrimSpace(text)}
}
