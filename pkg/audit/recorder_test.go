package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-oss/tarsy/pkg/hooks"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

func TestRecorder_WritesInteractionsFromBus(t *testing.T) {
	store := NewMemoryStore()
	newTestSession(t, store, "s1")
	execID := "e1"
	_, err := store.CreateStageExecution(context.Background(), CreateStageExecutionParams{
		ExecutionID: execID, SessionID: "s1", StageID: "analysis", StageIndex: 0, AgentID: "a",
	})
	require.NoError(t, err)

	bus := hooks.NewBus(16)
	bus.Register(NewRecorder(store))
	bus.Start()
	defer bus.Close()

	ctx := hooks.WithScope(context.Background(), "s1", execID)
	bus.EmitLLM(ctx, hooks.LLMInteractionEvent{
		Model:     "gemini-2.5-pro",
		Messages:  []models.ConversationMessage{{Role: models.RoleUser, Content: "hi"}},
		Response:  "Final Answer: ok",
		Timestamp: time.Now(),
	})
	bus.EmitMCP(ctx, hooks.MCPInteractionEvent{
		InteractionType: "tool_call",
		ServerID:        "k8s",
		ToolName:        "list_pods",
		Arguments:       map[string]any{"ns": "foo"},
		Result:          "[p1,p2]",
	})
	bus.EmitLifecycle(ctx, hooks.SessionLifecycleEvent{
		Kind: hooks.LifecycleStageCompleted, Detail: "analysis",
	})
	require.NoError(t, bus.Flush(ctx))

	timeline, err := store.GetSessionWithTimeline(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, timeline.Timeline, 3)

	llm := timeline.Timeline[0].LLM
	require.NotNil(t, llm)
	assert.Equal(t, "gemini-2.5-pro", llm.Model)
	require.NotNil(t, llm.StageExecutionID)
	assert.Equal(t, execID, *llm.StageExecutionID)

	mcp := timeline.Timeline[1].MCP
	require.NotNil(t, mcp)
	assert.Equal(t, "list_pods", mcp.ToolName)
	assert.JSONEq(t, `{"ns":"foo"}`, string(mcp.Arguments))

	lifecycle := timeline.Timeline[2].Lifecycle
	require.NotNil(t, lifecycle)
	assert.Equal(t, hooks.LifecycleStageCompleted, lifecycle.Kind)
}
