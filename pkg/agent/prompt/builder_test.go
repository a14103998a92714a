package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-oss/tarsy/pkg/agent"
	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/mcp"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

func execCtxFixture(strategy config.IterationStrategy) *agent.ExecutionContext {
	return &agent.ExecutionContext{
		SessionID:      "s1",
		StageName:      "analysis",
		AgentName:      "KubernetesAgent",
		Strategy:       strategy,
		MaxIterations:  10,
		ProcessingData: models.NewAlertProcessingData("kubernetes", map[string]any{"ns": "foo", "severity": "critical"}, ""),
	}
}

func TestBuildInitialMessages_ReAct(t *testing.T) {
	builder := NewBuilder()
	execCtx := execCtxFixture(config.IterationStrategyReact)
	execCtx.CustomInstructions = "Prefer the staging cluster context."
	execCtx.ServerInstructions = map[string]string{"kubernetes-server": "Use namespaced queries."}
	execCtx.ProcessingData.SetRunbook("# Runbook\nCheck finalizers.")

	tools := []mcp.ToolDefinition{
		{Server: "kubernetes-server", Tool: "list_pods", Description: "List pods", InputSchema: `{"type":"object"}`},
	}

	messages := builder.BuildInitialMessages(execCtx, tools)
	require.Len(t, messages, 2)
	require.Equal(t, models.RoleSystem, messages[0].Role)
	require.Equal(t, models.RoleUser, messages[1].Role)

	system := messages[0].Content
	assert.Contains(t, system, "Thought:")
	assert.Contains(t, system, "Final Answer:")
	assert.Contains(t, system, "Prefer the staging cluster context.")
	assert.Contains(t, system, "Use namespaced queries.")
	assert.Contains(t, system, "kubernetes-server.list_pods")

	task := messages[1].Content
	assert.Contains(t, task, "# Alert: kubernetes")
	assert.Contains(t, task, "Severity: critical")
	assert.Contains(t, task, `ns: "foo"`)
	assert.Contains(t, task, "Check finalizers.")
}

func TestBuildInitialMessages_ReactTools(t *testing.T) {
	messages := NewBuilder().BuildInitialMessages(execCtxFixture(config.IterationStrategyReactTools), nil)
	assert.Contains(t, messages[0].Content, "DONE")
	assert.Contains(t, messages[0].Content, "Do NOT produce an analysis")
}

func TestBuildInitialMessages_FinalAnalysisOmitsTools(t *testing.T) {
	execCtx := execCtxFixture(config.IterationStrategyReactFinalAnalysis)
	execCtx.ProcessingData.AddStageOutput("collect", &models.StageResult{
		Status: models.StageStatusSuccess,
		MCPResults: map[string][]models.ToolInvocation{
			"k8s": {{Server: "k8s", Tool: "list_pods", Result: "[p1]"}},
		},
	})

	messages := NewBuilder().BuildInitialMessages(execCtx, nil)
	system := messages[0].Content
	assert.NotContains(t, system, "## Available Tools")
	assert.Contains(t, system, "NO tools")

	task := messages[1].Content
	assert.Contains(t, task, "Data Collected by Previous Stages")
	assert.Contains(t, task, "[p1]")
}

func TestFormatAlertData_DeterministicOrder(t *testing.T) {
	data := map[string]any{"zebra": 1, "alpha": "x", "mango": true}
	first := FormatAlertData(data)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, FormatAlertData(data))
	}
	assert.Less(t, strings.Index(first, "alpha"), strings.Index(first, "mango"))
	assert.Less(t, strings.Index(first, "mango"), strings.Index(first, "zebra"))
}

func TestBuildCorrectionHint_PerStrategy(t *testing.T) {
	builder := NewBuilder()
	assert.Contains(t, builder.BuildCorrectionHint(config.IterationStrategyReact), "ReAct")
	assert.Contains(t, builder.BuildCorrectionHint(config.IterationStrategyReactTools), "DONE")
	assert.Contains(t, builder.BuildCorrectionHint(config.IterationStrategyReactFinalAnalysis), "Final Answer")
	assert.Contains(t, builder.BuildCorrectionHint(config.IterationStrategyRegular), "plain text")
}
