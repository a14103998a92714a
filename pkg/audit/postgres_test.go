package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tarsy-oss/tarsy/pkg/models"
)

// startPostgres spins up a throwaway PostgreSQL container and returns a
// connected store. Skipped with -short (requires Docker).
func startPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tarsy_test"),
		tcpostgres.WithUsername("tarsy"),
		tcpostgres.WithPassword("tarsy"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	store, err := NewPostgresStore(ctx, DBConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "tarsy",
		Password: "tarsy",
		Database: "tarsy_test",
		SSLMode:  "disable",
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestPostgresStore_EndToEnd(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, CreateSessionParams{
		SessionID:       "s1",
		AlertID:         "a1",
		AlertType:       "kubernetes",
		ChainID:         "kubernetes-agent-chain",
		ChainDefinition: json.RawMessage(`{"stages":[{"name":"analysis"}]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusPending, session.Status)

	require.NoError(t, store.UpdateSessionStatus(ctx, "s1", models.SessionStatusProcessing))

	exec, err := store.CreateStageExecution(ctx, CreateStageExecutionParams{
		ExecutionID: "e1", SessionID: "s1", StageID: "analysis", StageIndex: 0, AgentID: "KubernetesAgent",
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdateSessionCurrentStage(ctx, "s1", 0, "analysis"))

	require.NoError(t, store.AppendLifecycleEvent(ctx, LifecycleEvent{
		SessionID: "s1", StageExecutionID: &exec.ID, Kind: "stage.started", Detail: "analysis",
	}))
	require.NoError(t, store.AppendLLMInteraction(ctx, LLMInteraction{
		SessionID: "s1", StageExecutionID: &exec.ID, Model: "gemini-2.5-pro",
		MessagesIn: json.RawMessage(`[{"role":"user","content":"hi"}]`), ResponseOut: "Final Answer: ok",
	}))
	require.NoError(t, store.AppendMCPInteraction(ctx, MCPInteraction{
		SessionID: "s1", StageExecutionID: &exec.ID, InteractionType: "tool_call",
		ServerID: "k8s", ToolName: "list_pods", Arguments: json.RawMessage(`{"ns":"foo"}`), Result: "[p1,p2]",
	}))

	require.NoError(t, store.FinalizeStageExecution(ctx, "e1", FinalizeStageParams{
		Status:      models.ExecutionStatusCompleted,
		StageOutput: json.RawMessage(`{"status":"success","analysis":"ok"}`),
	}))
	require.NoError(t, store.FinalizeSession(ctx, "s1", models.SessionStatusCompleted, "ok", ""))

	timeline, err := store.GetSessionWithTimeline(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, timeline.Session.Status)
	require.Len(t, timeline.Stages, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, timeline.Stages[0].Status)
	require.Len(t, timeline.Timeline, 3)
	for i := 1; i < len(timeline.Timeline); i++ {
		assert.Greater(t, timeline.Timeline[i].TsUs, timeline.Timeline[i-1].TsUs)
	}
}

func TestPostgresStore_FinalizeIdempotentAndListFilters(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		_, err := store.CreateSession(ctx, CreateSessionParams{
			SessionID: id, AlertID: "a-" + id, AlertType: "kubernetes", ChainID: "c1",
		})
		require.NoError(t, err)
	}

	require.NoError(t, store.FinalizeSession(ctx, "s1", models.SessionStatusFailed, "", "boom"))
	require.NoError(t, store.FinalizeSession(ctx, "s1", models.SessionStatusCompleted, "late", ""))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFailed, got.Status)

	page, err := store.ListSessions(ctx, models.SessionFilters{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, "s1", page.Sessions[0].ID)

	page, err = store.ListSessions(ctx, models.SessionFilters{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, "s2", page.Sessions[0].ID) // newest first
}

func TestPostgresStore_StageOutputXORConstraint(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	_, err := store.CreateSession(ctx, CreateSessionParams{
		SessionID: "s1", AlertID: "a1", AlertType: "kubernetes", ChainID: "c1",
	})
	require.NoError(t, err)
	_, err = store.CreateStageExecution(ctx, CreateStageExecutionParams{
		ExecutionID: "e1", SessionID: "s1", StageID: "analysis", StageIndex: 0, AgentID: "a",
	})
	require.NoError(t, err)

	err = store.FinalizeStageExecution(ctx, "e1", FinalizeStageParams{
		Status:       models.ExecutionStatusFailed,
		StageOutput:  json.RawMessage(`{}`),
		ErrorMessage: "boom",
	})
	assert.ErrorIs(t, err, ErrOutputErrorExclusive)
}
