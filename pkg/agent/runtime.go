package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/hooks"
	"github.com/tarsy-oss/tarsy/pkg/llm"
	"github.com/tarsy-oss/tarsy/pkg/mcp"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// Runtime executes agents against stages. Stateless apart from the
// per-session tool-set cache; safe for concurrent use across alerts.
type Runtime struct {
	cfg      *config.Config
	llmBase  llm.Client
	newTools mcp.ToolSetFactory
	bus      *hooks.Bus
	prompts  PromptBuilder
	factory  ControllerFactory

	// Per-session tool sets, so the tool catalog is listed once per session
	// per server subset rather than once per stage.
	mu       sync.Mutex
	toolSets map[string]map[string]mcp.ToolSet // sessionID → serverKey → ToolSet
}

// NewRuntime creates the agent runtime.
func NewRuntime(cfg *config.Config, llmBase llm.Client, newTools mcp.ToolSetFactory, bus *hooks.Bus, prompts PromptBuilder, factory ControllerFactory) *Runtime {
	return &Runtime{
		cfg:      cfg,
		llmBase:  llmBase,
		newTools: newTools,
		bus:      bus,
		prompts:  prompts,
		factory:  factory,
		toolSets: make(map[string]map[string]mcp.ToolSet),
	}
}

// ProcessAlert runs one stage of the chain with the named agent. Errors
// inside the agent are returned as status=error results; they never
// propagate as Go errors across the stage boundary.
func (r *Runtime) ProcessAlert(
	ctx context.Context,
	pd *models.AlertProcessingData,
	sessionID, stageExecutionID, stageName, agentName string,
	stageStrategy config.IterationStrategy,
) *models.StageResult {
	logger := slog.With(
		"session_id", sessionID,
		"stage_execution_id", stageExecutionID,
		"stage_name", stageName,
		"agent", agentName,
	)

	agentCfg, err := r.cfg.GetAgent(agentName)
	if err != nil {
		return errorResult(stageStrategy, fmt.Sprintf("agent %q not found: %v", agentName, err))
	}

	strategy := ResolveStrategy(stageStrategy, agentCfg.IterationStrategy)
	maxIter := config.DefaultMaxIterations
	if agentCfg.MaxIterations != nil {
		maxIter = *agentCfg.MaxIterations
	} else if r.cfg.Defaults.MaxIterations != nil {
		maxIter = *r.cfg.Defaults.MaxIterations
	}

	controller, err := r.factory.For(strategy)
	if err != nil {
		return errorResult(strategy, fmt.Sprintf("no controller for strategy %q: %v", strategy, err))
	}

	execCtx := &ExecutionContext{
		SessionID:          sessionID,
		StageExecutionID:   stageExecutionID,
		StageName:          stageName,
		AgentName:          agentName,
		Strategy:           strategy,
		MaxIterations:      maxIter,
		ProcessingData:     pd,
		CustomInstructions: agentCfg.CustomInstructions,
		ServerInstructions: r.serverInstructions(agentCfg.MCPServers),
		LLM:                r.instrumentedLLM(),
		Tools:              r.toolSetFor(sessionID, agentCfg.MCPServers),
		Prompts:            r.prompts,
	}

	// Interactions emitted below carry the stage scope
	ctx = hooks.WithScope(ctx, sessionID, stageExecutionID)

	logger.Info("Agent execution starting", "strategy", strategy, "max_iterations", maxIter)
	result, err := controller.Run(ctx, execCtx)
	if err != nil {
		logger.Warn("Agent execution failed", "error", err)
		return errorResult(strategy, err.Error())
	}
	if result == nil {
		return errorResult(strategy, "controller returned nil result")
	}

	if result.Strategy == "" {
		result.Strategy = strategy
	}
	if result.TimestampUs == 0 {
		result.TimestampUs = time.Now().UnixMicro()
	}
	logger.Info("Agent execution finished", "status", result.Status)
	return result
}

// ReleaseSession drops the session's cached tool sets after finalization.
func (r *Runtime) ReleaseSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.toolSets, sessionID)
}

// toolSetFor returns the session-scoped tool set for a server subset,
// creating it on first use so the catalog is listed once per session.
func (r *Runtime) toolSetFor(sessionID string, serverIDs []string) mcp.ToolSet {
	key := serverKey(serverIDs)

	r.mu.Lock()
	defer r.mu.Unlock()

	perSession, ok := r.toolSets[sessionID]
	if !ok {
		perSession = make(map[string]mcp.ToolSet)
		r.toolSets[sessionID] = perSession
	}
	if toolSet, ok := perSession[key]; ok {
		return toolSet
	}

	toolSet := r.newTools(serverIDs)
	perSession[key] = toolSet
	return toolSet
}

// instrumentedLLM wraps the base client with hook emission and the
// per-request budget for the default provider.
func (r *Runtime) instrumentedLLM() llm.Client {
	model := "unknown"
	if name := r.cfg.Defaults.LLMProvider; name != "" {
		if provider, err := r.cfg.GetLLMProvider(name); err == nil {
			model = provider.Model
		}
	}
	return llm.WithHooks(r.llmBase, r.bus, model, r.cfg.Defaults.LLMTimeout)
}

// serverInstructions collects per-server LLM instructions from the registry.
func (r *Runtime) serverInstructions(serverIDs []string) map[string]string {
	instructions := make(map[string]string)
	for _, id := range serverIDs {
		server, err := r.cfg.GetMCPServer(id)
		if err != nil || server.Instructions == "" {
			continue
		}
		instructions[id] = server.Instructions
	}
	return instructions
}

func serverKey(serverIDs []string) string {
	sorted := make([]string, len(serverIDs))
	copy(sorted, serverIDs)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func errorResult(strategy config.IterationStrategy, message string) *models.StageResult {
	return &models.StageResult{
		Status:       models.StageStatusError,
		ErrorMessage: message,
		Strategy:     strategy,
		TimestampUs:  time.Now().UnixMicro(),
	}
}
