// Package agent provides the agent runtime. An agent is stateless data —
// its MCP server subset, its prompt instructions, and an optional default
// iteration strategy — bound to a stage at execution time. The runtime owns
// strategy resolution, context preparation, and the hand-off to the
// iteration controller.
package agent

import (
	"context"

	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// Controller defines the iteration strategy interface. Each controller
// drives one stage to completion.
type Controller interface {
	Run(ctx context.Context, execCtx *ExecutionContext) (*models.StageResult, error)
}

// ControllerFactory resolves a controller for an iteration strategy.
// Implemented by controller.Factory; defined here to avoid an
// agent ↔ controller import cycle.
type ControllerFactory interface {
	For(strategy config.IterationStrategy) (Controller, error)
}

// ResolveStrategy applies the strategy hierarchy:
// stage override → agent default → react.
func ResolveStrategy(stageStrategy, agentDefault config.IterationStrategy) config.IterationStrategy {
	if stageStrategy != "" {
		return stageStrategy
	}
	if agentDefault != "" {
		return agentDefault
	}
	return config.DefaultIterationStrategy
}
