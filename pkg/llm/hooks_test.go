package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-oss/tarsy/pkg/hooks"
	"github.com/tarsy-oss/tarsy/pkg/models"
)

// captureSubscriber collects LLM events for assertions.
type captureSubscriber struct {
	mu     sync.Mutex
	events []hooks.LLMInteractionEvent
}

func (c *captureSubscriber) OnLLMInteraction(e hooks.LLMInteractionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}
func (c *captureSubscriber) OnMCPInteraction(hooks.MCPInteractionEvent) error     { return nil }
func (c *captureSubscriber) OnSessionLifecycle(hooks.SessionLifecycleEvent) error { return nil }

func newTestBus(t *testing.T) (*hooks.Bus, *captureSubscriber) {
	t.Helper()
	bus := hooks.NewBus(16)
	capture := &captureSubscriber{}
	bus.Register(capture)
	bus.Start()
	t.Cleanup(bus.Close)
	return bus, capture
}

func TestWithHooks_EmitsOnSuccess(t *testing.T) {
	bus, capture := newTestBus(t)

	client := WithHooks(NewScriptedClient(ScriptEntry{Text: "Final Answer: ok"}), bus, "gemini-2.5-pro", time.Minute)

	ctx := hooks.WithScope(context.Background(), "s1", "e1")
	messages := []models.ConversationMessage{{Role: models.RoleUser, Content: "investigate"}}
	completion, err := client.Complete(ctx, messages)
	require.NoError(t, err)
	assert.Equal(t, "Final Answer: ok", completion.Text)

	require.NoError(t, bus.Flush(ctx))
	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.events, 1)
	event := capture.events[0]
	assert.Equal(t, "s1", event.SessionID)
	assert.Equal(t, "e1", event.StageExecutionID)
	assert.Equal(t, "gemini-2.5-pro", event.Model)
	assert.Equal(t, "Final Answer: ok", event.Response)
	assert.Empty(t, event.Error)
	require.Len(t, event.Messages, 1)
}

func TestWithHooks_EmitsOnError(t *testing.T) {
	bus, capture := newTestBus(t)

	boom := errors.New("provider unavailable")
	client := WithHooks(NewScriptedClient(ScriptEntry{Err: boom}), bus, "m", time.Minute)

	ctx := hooks.WithScope(context.Background(), "s1", "e1")
	_, err := client.Complete(ctx, nil)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, bus.Flush(ctx))
	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.events, 1)
	assert.Equal(t, "provider unavailable", capture.events[0].Error)
	assert.Empty(t, capture.events[0].Response)
}

func TestWithHooks_AppliesTimeout(t *testing.T) {
	bus, capture := newTestBus(t)

	client := WithHooks(NewScriptedClient(ScriptEntry{Block: true}), bus, "m", 50*time.Millisecond)

	ctx := hooks.WithScope(context.Background(), "s1", "e1")
	_, err := client.Complete(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, bus.Flush(context.Background()))
	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.events, 1)
	assert.Contains(t, capture.events[0].Error, "deadline exceeded")
}
