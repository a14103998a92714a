package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/hooks"
	"github.com/tarsy-oss/tarsy/pkg/llm"
	"github.com/tarsy-oss/tarsy/pkg/mcp"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// passthroughController echoes its resolved strategy into the result.
type passthroughController struct{}

func (passthroughController) Run(_ context.Context, execCtx *ExecutionContext) (*models.StageResult, error) {
	return &models.StageResult{
		Status:   models.StageStatusSuccess,
		Analysis: "done via " + string(execCtx.Strategy),
	}, nil
}

// singleControllerFactory returns the same controller for every strategy.
type singleControllerFactory struct{ c Controller }

func (f singleControllerFactory) For(config.IterationStrategy) (Controller, error) { return f.c, nil }

func testConfig(t *testing.T, agentStrategy config.IterationStrategy) *config.Config {
	t.Helper()
	chains, err := config.NewChainRegistry(map[string]*config.ChainConfig{
		"test-chain": {AlertTypes: []string{"test"}, Stages: []config.StageConfig{{Name: "s", Agent: "TestAgent"}}},
	})
	require.NoError(t, err)
	defaults := &config.Defaults{}
	return &config.Config{
		Defaults: defaults,
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"TestAgent": {MCPServers: []string{"k8s"}, IterationStrategy: agentStrategy},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"k8s": {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "x"}},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{}),
		ChainRegistry:       chains,
	}
}

func newTestRuntime(t *testing.T, cfg *config.Config, controller Controller) *Runtime {
	t.Helper()
	bus := hooks.NewBus(16)
	bus.Start()
	t.Cleanup(bus.Close)

	factory := mcp.ToolSetFactory(func([]string) mcp.ToolSet { return mcp.NewScriptedToolSet() })
	return NewRuntime(cfg, llm.NewScriptedClient(), factory, bus, nil, singleControllerFactory{controller})
}

func TestResolveStrategy(t *testing.T) {
	// stage override > agent default > react
	assert.Equal(t, config.IterationStrategyReactTools,
		ResolveStrategy(config.IterationStrategyReactTools, config.IterationStrategyRegular))
	assert.Equal(t, config.IterationStrategyRegular,
		ResolveStrategy("", config.IterationStrategyRegular))
	assert.Equal(t, config.IterationStrategyReact, ResolveStrategy("", ""))
}

func TestProcessAlert_StrategyResolution(t *testing.T) {
	cfg := testConfig(t, config.IterationStrategyRegular)
	runtime := newTestRuntime(t, cfg, passthroughController{})
	pd := models.NewAlertProcessingData("test", nil, "")

	// Stage override wins
	result := runtime.ProcessAlert(context.Background(), pd, "s1", "e1", "stage", "TestAgent", config.IterationStrategyReactTools)
	assert.Equal(t, "done via react-tools", result.Analysis)
	assert.Equal(t, config.IterationStrategyReactTools, result.Strategy)

	// Agent default when no stage override
	result = runtime.ProcessAlert(context.Background(), pd, "s1", "e2", "stage", "TestAgent", "")
	assert.Equal(t, "done via regular", result.Analysis)
}

func TestProcessAlert_UnknownAgentIsErrorResult(t *testing.T) {
	cfg := testConfig(t, "")
	runtime := newTestRuntime(t, cfg, passthroughController{})

	result := runtime.ProcessAlert(context.Background(), models.NewAlertProcessingData("test", nil, ""),
		"s1", "e1", "stage", "GhostAgent", "")
	assert.Equal(t, models.StageStatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "GhostAgent")
	assert.Positive(t, result.TimestampUs)
}

// erroringController always fails with a Go error.
type erroringController struct{}

func (erroringController) Run(context.Context, *ExecutionContext) (*models.StageResult, error) {
	return nil, assert.AnError
}

func TestProcessAlert_ControllerErrorBecomesErrorResult(t *testing.T) {
	cfg := testConfig(t, "")
	runtime := newTestRuntime(t, cfg, erroringController{})

	result := runtime.ProcessAlert(context.Background(), models.NewAlertProcessingData("test", nil, ""),
		"s1", "e1", "stage", "TestAgent", "")
	assert.Equal(t, models.StageStatusError, result.Status)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestRuntime_ToolSetCachedPerSession(t *testing.T) {
	cfg := testConfig(t, "")
	created := 0
	factory := mcp.ToolSetFactory(func([]string) mcp.ToolSet {
		created++
		return mcp.NewScriptedToolSet()
	})

	bus := hooks.NewBus(16)
	bus.Start()
	t.Cleanup(bus.Close)
	runtime := NewRuntime(cfg, llm.NewScriptedClient(), factory, bus, nil, singleControllerFactory{passthroughController{}})

	pd := models.NewAlertProcessingData("test", nil, "")
	runtime.ProcessAlert(context.Background(), pd, "s1", "e1", "stage-a", "TestAgent", "")
	runtime.ProcessAlert(context.Background(), pd, "s1", "e2", "stage-b", "TestAgent", "")
	assert.Equal(t, 1, created, "same session and server subset must reuse the tool set")

	runtime.ProcessAlert(context.Background(), pd, "s2", "e3", "stage-a", "TestAgent", "")
	assert.Equal(t, 2, created, "a new session gets a fresh tool set")

	runtime.ReleaseSession("s1")
	runtime.ProcessAlert(context.Background(), pd, "s1", "e4", "stage-a", "TestAgent", "")
	assert.Equal(t, 3, created, "released sessions rebuild their tool sets")
}
