package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/llm"
	"github.com/tarsy-oss/tarsy/pkg/mcp"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

func TestFinalAnalysis_Success(t *testing.T) {
	client := llm.NewScriptedClient(llm.ScriptEntry{Text: "Final Answer: diagnosis"})

	execCtx := newExecCtx(config.IterationStrategyReactFinalAnalysis, client, mcp.NewScriptedToolSet())
	result, err := NewFinalAnalysisController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusSuccess, result.Status)
	assert.Equal(t, "diagnosis", result.Analysis)
	assert.Nil(t, result.MCPResults)
}

func TestFinalAnalysis_PriorStageDataInPrompt(t *testing.T) {
	client := llm.NewScriptedClient(llm.ScriptEntry{Text: "Final Answer: diagnosis"})

	execCtx := newExecCtx(config.IterationStrategyReactFinalAnalysis, client, mcp.NewScriptedToolSet())
	execCtx.ProcessingData.AddStageOutput("collect", &models.StageResult{
		Status: models.StageStatusSuccess,
		MCPResults: map[string][]models.ToolInvocation{
			"k8s": {{Server: "k8s", Tool: "list_pods", Result: "[p1,p2]"}},
		},
	})

	_, err := NewFinalAnalysisController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	// The merged MCP output of prior stages is embedded in the task prompt
	require.Equal(t, 1, client.CallCount())
	task := client.Calls[0][1].Content
	assert.Contains(t, task, "Data Collected by Previous Stages")
	assert.Contains(t, task, "[p1,p2]")
}

func TestFinalAnalysis_ToolRequestRedirected(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ScriptEntry{Text: "Action: k8s.list_pods\nAction Input: {}"},
		llm.ScriptEntry{Text: "Final Answer: done without tools"},
	)

	execCtx := newExecCtx(config.IterationStrategyReactFinalAnalysis, client, mcp.NewScriptedToolSet())
	result, err := NewFinalAnalysisController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusSuccess, result.Status)

	lastTurn := client.Calls[1][len(client.Calls[1])-1]
	assert.Contains(t, lastTurn.Content, "no tools are available")
}

func TestFinalAnalysis_PlainTextAccepted(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ScriptEntry{Text: "The namespace is stuck because of a finalizer on a stale resource."},
	)

	execCtx := newExecCtx(config.IterationStrategyReactFinalAnalysis, client, mcp.NewScriptedToolSet())
	result, err := NewFinalAnalysisController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusSuccess, result.Status)
	assert.Contains(t, result.Analysis, "finalizer")
}

func TestRegular_PlainTextIsAnalysis(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ScriptEntry{Text: "Action: k8s.list_pods\nAction Input: {\"ns\": \"foo\"}"},
		llm.ScriptEntry{Text: "The pods are fine; the alert was transient."},
	)
	tools := k8sToolSet()

	execCtx := newExecCtx(config.IterationStrategyRegular, client, tools)
	result, err := NewRegularController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusSuccess, result.Status)
	assert.Contains(t, result.Analysis, "transient")
	require.Len(t, tools.Calls, 1)
}

func TestFactory_AllStrategiesResolve(t *testing.T) {
	factory := NewFactory()
	for _, strategy := range []config.IterationStrategy{
		config.IterationStrategyRegular,
		config.IterationStrategyReact,
		config.IterationStrategyReactTools,
		config.IterationStrategyReactToolsPartial,
		config.IterationStrategyReactFinalAnalysis,
	} {
		controller, err := factory.For(strategy)
		require.NoError(t, err, "strategy %s", strategy)
		assert.NotNil(t, controller)
	}

	_, err := factory.For("free-jazz")
	assert.Error(t, err)
}
