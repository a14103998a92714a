package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tarsy-oss/tarsy/pkg/agent"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// FinalAnalysisController implements the synthesis-only strategy: no tools
// are bound, the prompt carries the full accumulated MCP output of prior
// stages, and the LLM must produce a comprehensive analysis.
type FinalAnalysisController struct{}

// NewFinalAnalysisController creates a final-analysis controller.
func NewFinalAnalysisController() *FinalAnalysisController {
	return &FinalAnalysisController{}
}

// Run executes the loop. Tool requests are format errors here — the model
// gets a correction hint rather than an execution.
func (c *FinalAnalysisController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*models.StageResult, error) {
	logger := slog.With(
		"session_id", execCtx.SessionID,
		"stage_execution_id", execCtx.StageExecutionID,
		"strategy", execCtx.Strategy,
	)

	// No tool catalog: this strategy binds no tools
	messages := execCtx.Prompts.BuildInitialMessages(execCtx, nil)
	recorder := newCallRecorder()
	softRetries := 0

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
		parsed := ParseReActResponse(completion.Text)

		switch {
		case parsed.IsFinalAnswer:
			logger.Info("Final analysis produced", "iterations", iteration)
			return successResult(parsed.FinalAnswer, recorder), nil

		case parsed.HasAction:
			// Tools are not available to this strategy
			messages = append(messages, models.ConversationMessage{
				Role:    models.RoleUser,
				Content: "Observation: no tools are available in this stage. All data is already included above. Conclude with 'Final Answer:'.",
			})

		default:
			// A plain-text response without ReAct markers is accepted as the
			// analysis — synthesis models often skip the scaffold entirely.
			if text := strings.TrimSpace(completion.Text); text != "" && !parsed.IsDone {
				logger.Info("Accepting unmarked response as final analysis", "iterations", iteration)
				return successResult(text, recorder), nil
			}
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
