package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-oss/tarsy/pkg/audit"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

func seedSession(t *testing.T, store audit.Store, id string, terminal bool) {
	t.Helper()
	_, err := store.CreateSession(context.Background(), audit.CreateSessionParams{
		SessionID: id, AlertID: "a-" + id, AlertType: "kubernetes", ChainID: "c",
	})
	require.NoError(t, err)
	if terminal {
		require.NoError(t, store.FinalizeSession(context.Background(), id, models.SessionStatusCompleted, "ok", ""))
	}
}

func TestSweepOnce_DeletesOnlyOldTerminalSessions(t *testing.T) {
	store := audit.NewMemoryStore()
	seedSession(t, store, "done", true)
	seedSession(t, store, "running", false)

	// Zero-day retention makes every past terminal session eligible
	service := NewService(store, 0, time.Hour)
	time.Sleep(2 * time.Millisecond) // session timestamps fall behind the cutoff
	service.SweepOnce(context.Background())

	_, err := store.GetSession(context.Background(), "done")
	assert.ErrorIs(t, err, audit.ErrSessionNotFound)
	_, err = store.GetSession(context.Background(), "running")
	assert.NoError(t, err)
}

func TestSweepOnce_RetentionWindowKeepsRecentSessions(t *testing.T) {
	store := audit.NewMemoryStore()
	seedSession(t, store, "recent", true)

	service := NewService(store, 30, time.Hour)
	service.SweepOnce(context.Background())

	_, err := store.GetSession(context.Background(), "recent")
	assert.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	store := audit.NewMemoryStore()

	// Disabled retention never starts the loop
	disabled := NewService(store, 0, time.Millisecond)
	disabled.Start(context.Background())
	disabled.Stop() // must not hang

	service := NewService(store, 30, 10*time.Millisecond)
	service.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	service.Stop()
}
