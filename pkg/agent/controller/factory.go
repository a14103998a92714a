package controller

import (
	"fmt"

	"github.com/tarsy-oss/tarsy/pkg/agent"
	"github.com/tarsy-oss/tarsy/pkg/config"
)

// Compile-time check that Factory implements agent.ControllerFactory.
var _ agent.ControllerFactory = (*Factory)(nil)

// Factory maps iteration strategies to controllers. Controllers are
// stateless and shared.
type Factory struct {
	controllers map[config.IterationStrategy]agent.Controller
}

// NewFactory creates a factory with all built-in controllers registered.
func NewFactory() *Factory {
	return &Factory{
		controllers: map[config.IterationStrategy]agent.Controller{
			config.IterationStrategyRegular:            NewRegularController(),
			config.IterationStrategyReact:              NewReActController(),
			config.IterationStrategyReactTools:         NewReActToolsController(),
			config.IterationStrategyReactToolsPartial:  NewReActController(),
			config.IterationStrategyReactFinalAnalysis: NewFinalAnalysisController(),
		},
	}
}

// For resolves the controller for a strategy.
func (f *Factory) For(strategy config.IterationStrategy) (agent.Controller, error) {
	controller, ok := f.controllers[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown iteration strategy: %q", strategy)
	}
	return controller, nil
}
