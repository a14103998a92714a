package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSubscriber captures every event it receives.
type recordingSubscriber struct {
	mu         sync.Mutex
	llm        []LLMInteractionEvent
	mcp        []MCPInteractionEvent
	lifecycle  []SessionLifecycleEvent
	failAlways bool
}

func (r *recordingSubscriber) OnLLMInteraction(e LLMInteractionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAlways {
		return errors.New("subscriber down")
	}
	r.llm = append(r.llm, e)
	return nil
}

func (r *recordingSubscriber) OnMCPInteraction(e MCPInteractionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAlways {
		return errors.New("subscriber down")
	}
	r.mcp = append(r.mcp, e)
	return nil
}

func (r *recordingSubscriber) OnSessionLifecycle(e SessionLifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAlways {
		return errors.New("subscriber down")
	}
	r.lifecycle = append(r.lifecycle, e)
	return nil
}

func (r *recordingSubscriber) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.llm), len(r.mcp), len(r.lifecycle)
}

func TestBus_FanOutInOrder(t *testing.T) {
	bus := NewBus(16)
	rec := &recordingSubscriber{}
	bus.Register(rec)
	bus.Start()
	defer bus.Close()

	ctx := context.Background()
	bus.EmitLLM(ctx, LLMInteractionEvent{SessionID: "s1", Model: "m", Response: "first"})
	bus.EmitLLM(ctx, LLMInteractionEvent{SessionID: "s1", Model: "m", Response: "second"})
	bus.EmitMCP(ctx, MCPInteractionEvent{SessionID: "s1", ServerID: "k8s", ToolName: "list_pods", InteractionType: "tool_call"})
	require.NoError(t, bus.Flush(ctx))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.llm, 2)
	assert.Equal(t, "first", rec.llm[0].Response)
	assert.Equal(t, "second", rec.llm[1].Response)
	require.Len(t, rec.mcp, 1)
	assert.False(t, rec.mcp[0].Timestamp.IsZero())
}

func TestBus_ScopeFromContext(t *testing.T) {
	bus := NewBus(16)
	rec := &recordingSubscriber{}
	bus.Register(rec)
	bus.Start()
	defer bus.Close()

	ctx := WithScope(context.Background(), "session-42", "exec-7")
	bus.EmitLLM(ctx, LLMInteractionEvent{Model: "m"})
	require.NoError(t, bus.Flush(ctx))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.llm, 1)
	assert.Equal(t, "session-42", rec.llm[0].SessionID)
	assert.Equal(t, "exec-7", rec.llm[0].StageExecutionID)
}

func TestBus_FailingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(16)
	bad := &recordingSubscriber{failAlways: true}
	good := &recordingSubscriber{}
	bus.Register(bad)
	bus.Register(good)
	bus.Start()
	defer bus.Close()

	ctx := context.Background()
	bus.EmitLifecycle(ctx, SessionLifecycleEvent{SessionID: "s1", Kind: LifecycleSessionStarted})
	require.NoError(t, bus.Flush(ctx))

	_, _, n := good.counts()
	assert.Equal(t, 1, n)
}

func TestBus_NoSubscribersDropsSilently(t *testing.T) {
	bus := NewBus(1)
	bus.Start()
	defer bus.Close()

	ctx := context.Background()
	// Far more events than the queue holds — must not block with no subscribers
	for i := 0; i < 100; i++ {
		bus.EmitLLM(ctx, LLMInteractionEvent{SessionID: "s1"})
	}
	require.NoError(t, bus.Flush(ctx))
}

func TestBus_FlushContextCancelled(t *testing.T) {
	bus := NewBus(1)
	blocker := make(chan struct{})
	bus.Register(&blockingSubscriber{release: blocker})
	bus.Start()

	ctx := context.Background()
	bus.EmitLLM(ctx, LLMInteractionEvent{SessionID: "s1"})

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := bus.Flush(cancelCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(blocker)
	bus.Close()
}

// blockingSubscriber blocks until released, to exercise Flush timeouts.
type blockingSubscriber struct {
	release <-chan struct{}
}

func (b *blockingSubscriber) OnLLMInteraction(LLMInteractionEvent) error {
	<-b.release
	return nil
}
func (b *blockingSubscriber) OnMCPInteraction(MCPInteractionEvent) error     { return nil }
func (b *blockingSubscriber) OnSessionLifecycle(SessionLifecycleEvent) error { return nil }
