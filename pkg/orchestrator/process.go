package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-oss/tarsy/pkg/audit"
	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/hooks"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// flushTimeout bounds hook-bus drains before stage/session finalization.
const flushTimeout = 30 * time.Second

// run drives one session through the chain:
//
//	SUBMITTED → RESOLVED → RUNBOOK_READY → STAGE[i]_ACTIVE → STAGE[i]_DONE
//	                                                          ↘ next i or FINALIZE
//	FINALIZE → (COMPLETED | PARTIAL | FAILED)
//
// Stage failures never short-circuit the chain; later analytical stages can
// still produce a useful synthesis.
func (s *AlertService) run(ctx context.Context, session *audit.Session, chainID string, chain *config.ChainConfig, pd *models.AlertProcessingData) {
	logger := slog.With("session_id", session.ID, "chain_id", chainID, "alert_type", session.AlertType)
	logger.Info("Session processing started", "stages", len(chain.Stages))

	scopeCtx := hooks.WithScope(ctx, session.ID, "")
	totalStages := len(chain.Stages)

	if err := s.store.UpdateSessionStatus(ctx, session.ID, models.SessionStatusProcessing); err != nil {
		logger.Error("Failed to mark session processing", "error", err)
	}
	s.emitProgress(scopeCtx, hooks.SessionLifecycleEvent{
		Kind:    hooks.LifecycleSessionStarted,
		ChainID: chainID, TotalStages: totalStages,
		Status: string(models.SessionStatusProcessing),
	})

	// Runbook is fetched once; failure is non-fatal and recorded as a
	// lifecycle event.
	s.fetchRunbook(scopeCtx, session.ID, pd)

	var completed, failed int
	cancelled := false

	for i, stage := range chain.Stages {
		if ctx.Err() != nil {
			// Cancelled between stages: later stages are never created
			cancelled = true
			break
		}

		result := s.runStage(ctx, session.ID, chainID, i, totalStages, stage, pd, &completed, &failed)
		if ctx.Err() != nil && result != nil && result.Status == models.StageStatusError {
			cancelled = true
			break
		}
	}

	s.finalize(scopeCtx, session.ID, chainID, pd, totalStages, completed, failed, cancelled)
}

// runStage executes a single stage: create the execution row, invoke the
// agent, persist the terminal update, and append the output to the
// processing data. Whatever the agent returns — success or error — is
// stored verbatim.
func (s *AlertService) runStage(
	ctx context.Context,
	sessionID, chainID string,
	stageIndex, totalStages int,
	stage config.StageConfig,
	pd *models.AlertProcessingData,
	completed, failed *int,
) *models.StageResult {
	logger := slog.With("session_id", sessionID, "stage_name", stage.Name, "stage_index", stageIndex)

	executionID := uuid.New().String()
	exec, err := s.store.CreateStageExecution(ctx, audit.CreateStageExecutionParams{
		ExecutionID: executionID,
		SessionID:   sessionID,
		StageID:     stage.Name,
		StageIndex:  stageIndex,
		AgentID:     stage.Agent,
	})
	if err != nil {
		logger.Error("Failed to create stage execution", "error", err)
		*failed++
		result := &models.StageResult{
			Status:       models.StageStatusError,
			ErrorMessage: fmt.Sprintf("failed to create stage execution: %v", err),
			TimestampUs:  time.Now().UnixMicro(),
		}
		pd.AddStageOutput(stage.Name, result)
		return result
	}

	if err := s.store.UpdateSessionCurrentStage(ctx, sessionID, stageIndex, stage.Name); err != nil {
		logger.Warn("Failed to update session progress", "error", err)
	}
	pd.CurrentStageName = stage.Name

	stageCtx := hooks.WithScope(ctx, sessionID, exec.ID)
	s.emitProgress(stageCtx, hooks.SessionLifecycleEvent{
		Kind:   hooks.LifecycleStageStarted,
		Detail: stage.Name,
		ChainID: chainID, CurrentStage: stage.Name,
		TotalStages: totalStages, CompletedStages: *completed,
		Status: string(models.SessionStatusProcessing),
	})

	result := s.runtime.ProcessAlert(ctx, pd, sessionID, exec.ID, stage.Name, stage.Agent, stage.IterationStrategy)

	// Cancellation during the stage surfaces as the stage's failure
	if ctx.Err() != nil {
		result = &models.StageResult{
			Status:       models.StageStatusError,
			ErrorMessage: "cancelled",
			Strategy:     result.Strategy,
			MCPResults:   result.MCPResults,
			TimestampUs:  time.Now().UnixMicro(),
		}
	}

	// Drain pending interaction writes so audit rows land in stage order.
	// Use a detached context — ctx may already be cancelled.
	s.flushBus(logger)

	// Persist the terminal update (detached context for the same reason)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if result.Succeeded() {
		output, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			logger.Error("Failed to marshal stage output", "error", marshalErr)
			output = []byte(`{"status":"success"}`)
		}
		err = s.store.FinalizeStageExecution(writeCtx, exec.ID, audit.FinalizeStageParams{
			Status:      models.ExecutionStatusCompleted,
			StageOutput: output,
		})
		*completed++
	} else {
		err = s.store.FinalizeStageExecution(writeCtx, exec.ID, audit.FinalizeStageParams{
			Status:       models.ExecutionStatusFailed,
			ErrorMessage: result.ErrorMessage,
		})
		*failed++
	}
	if err != nil {
		logger.Error("Failed to finalize stage execution", "error", err)
	}

	pd.AddStageOutput(stage.Name, result)

	s.emitProgress(stageCtx, hooks.SessionLifecycleEvent{
		Kind:   hooks.LifecycleStageCompleted,
		Detail: fmt.Sprintf("%s: %s", stage.Name, result.Status),
		ChainID: chainID, CurrentStage: stage.Name,
		TotalStages: totalStages, CompletedStages: *completed,
		Status: string(models.SessionStatusProcessing),
	})

	logger.Info("Stage finished", "status", result.Status)
	return result
}

// finalize computes the terminal session status and writes it exactly once.
func (s *AlertService) finalize(
	scopeCtx context.Context,
	sessionID, chainID string,
	pd *models.AlertProcessingData,
	totalStages, completed, failed int,
	cancelled bool,
) {
	logger := slog.With("session_id", sessionID, "chain_id", chainID)

	var status models.SessionStatus
	var errorMessage string
	switch {
	case cancelled:
		status = models.SessionStatusFailed
		errorMessage = "cancelled"
	case failed == 0:
		status = models.SessionStatusCompleted
	case completed > 0:
		status = models.SessionStatusPartial
	default:
		status = models.SessionStatusFailed
		errorMessage = fmt.Sprintf("all %d stages failed", totalStages)
	}

	finalAnalysis := ""
	if status == models.SessionStatusCompleted || status == models.SessionStatusPartial {
		finalAnalysis = extractFinalAnalysis(pd, chainID, totalStages)
	}

	s.flushBus(logger)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(scopeCtx), flushTimeout)
	defer cancel()
	if err := s.store.FinalizeSession(writeCtx, sessionID, status, finalAnalysis, errorMessage); err != nil {
		logger.Error("Failed to finalize session", "error", err)
	}

	s.emitProgress(scopeCtx, hooks.SessionLifecycleEvent{
		Kind:   hooks.LifecycleSessionCompleted,
		Detail: errorMessage,
		ChainID: chainID, TotalStages: totalStages, CompletedStages: completed,
		Status: string(status),
	})

	logger.Info("Session finalized", "status", status, "completed", completed, "failed", failed)
}

// extractFinalAnalysis walks stage outputs in reverse and picks the first
// successful stage carrying an analysis; when none exists, it synthesizes a
// minimal summary citing chain id and stage count.
func extractFinalAnalysis(pd *models.AlertProcessingData, chainID string, totalStages int) string {
	names := pd.StageNames()
	for i := len(names) - 1; i >= 0; i-- {
		result := pd.StageOutput(names[i])
		if result.Succeeded() && result.Analysis != "" {
			return result.Analysis
		}
	}
	return fmt.Sprintf("Chain %s processed %d stage(s); no stage produced an analysis.", chainID, totalStages)
}

// fetchRunbook downloads the runbook once. Network failure is non-fatal:
// processing continues with empty content and the failure is recorded as a
// lifecycle interaction.
func (s *AlertService) fetchRunbook(scopeCtx context.Context, sessionID string, pd *models.AlertProcessingData) {
	if pd.RunbookURL == "" || s.runbooks == nil {
		return
	}

	fetchCtx, cancel := context.WithTimeout(scopeCtx, s.cfg.Defaults.RunbookTimeout)
	defer cancel()

	content, err := s.runbooks.Resolve(fetchCtx, pd.RunbookURL)
	if err != nil {
		slog.Warn("Runbook fetch failed, continuing with empty runbook",
			"session_id", sessionID, "url", pd.RunbookURL, "error", err)
		pd.SetRunbook("")
		s.bus.EmitLifecycle(scopeCtx, hooks.SessionLifecycleEvent{
			Kind:   hooks.LifecycleRunbookFetchFailed,
			Detail: err.Error(),
		})
		return
	}
	pd.SetRunbook(content)
}

// emitProgress publishes a lifecycle event carrying the progress snapshot.
func (s *AlertService) emitProgress(ctx context.Context, event hooks.SessionLifecycleEvent) {
	s.bus.EmitLifecycle(ctx, event)
}

// flushBus drains the hook bus with a bounded detached context.
func (s *AlertService) flushBus(logger *slog.Logger) {
	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.bus.Flush(flushCtx); err != nil {
		logger.Warn("Hook bus flush timed out", "error", err)
	}
}
