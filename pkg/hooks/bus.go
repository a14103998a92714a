package hooks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultQueueSize bounds the dispatch queue. Emitters block only when the
// queue is full (audit writer badly behind), which is preferable to dropping
// audit events.
const DefaultQueueSize = 1024

// queued is one unit of work for the dispatcher: either an event to fan out
// or a flush marker.
type queued struct {
	llm       *LLMInteractionEvent
	mcp       *MCPInteractionEvent
	lifecycle *SessionLifecycleEvent
	flush     chan struct{} // non-nil for flush markers; closed when reached
}

// Bus is the single-process publisher. Events are dispatched in emission
// order by one goroutine; each subscriber's error is collected and logged
// individually and never propagates to the emitter.
type Bus struct {
	mu     sync.RWMutex
	subs   []Subscriber
	queue  chan queued
	done   chan struct{}
	closed sync.Once
}

// NewBus creates a bus with the given queue size (<=0 uses DefaultQueueSize).
// Call Start before emitting.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queue: make(chan queued, queueSize),
		done:  make(chan struct{}),
	}
}

// Register adds a subscriber. Meant for wiring at startup; registering after
// Start is safe but events already queued are not replayed.
func (b *Bus) Register(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Start launches the dispatcher goroutine.
func (b *Bus) Start() {
	go b.dispatch()
}

// Close stops the dispatcher after draining queued events.
func (b *Bus) Close() {
	b.closed.Do(func() { close(b.queue) })
	<-b.done
}

// dispatch is the single consumer of the queue.
func (b *Bus) dispatch() {
	defer close(b.done)
	for item := range b.queue {
		if item.flush != nil {
			close(item.flush)
			continue
		}
		b.fanOut(item)
	}
}

// fanOut invokes every subscriber for one event. A failing subscriber never
// prevents another subscriber from running.
func (b *Bus) fanOut(item queued) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		var err error
		switch {
		case item.llm != nil:
			err = sub.OnLLMInteraction(*item.llm)
		case item.mcp != nil:
			err = sub.OnMCPInteraction(*item.mcp)
		case item.lifecycle != nil:
			err = sub.OnSessionLifecycle(*item.lifecycle)
		}
		if err != nil {
			slog.Warn("Hook subscriber failed", "subscriber", subscriberName(sub), "error", err)
		}
	}
}

// EmitLLM publishes an LLM interaction event. Session/stage ids are filled
// from the context scope when unset; a zero timestamp is stamped now.
func (b *Bus) EmitLLM(ctx context.Context, event LLMInteractionEvent) {
	fillScope(ctx, &event.SessionID, &event.StageExecutionID)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.enqueue(queued{llm: &event})
}

// EmitMCP publishes an MCP interaction event.
func (b *Bus) EmitMCP(ctx context.Context, event MCPInteractionEvent) {
	fillScope(ctx, &event.SessionID, &event.StageExecutionID)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.enqueue(queued{mcp: &event})
}

// EmitLifecycle publishes a session lifecycle event.
func (b *Bus) EmitLifecycle(ctx context.Context, event SessionLifecycleEvent) {
	fillScope(ctx, &event.SessionID, &event.StageExecutionID)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.enqueue(queued{lifecycle: &event})
}

// Flush blocks until every event emitted before the call has been dispatched,
// or the context is cancelled. The orchestrator flushes before finalizing a
// stage or session so audit rows land in stage order.
func (b *Bus) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	select {
	case b.queue <- queued{flush: marker}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue queues one item. With zero subscribers events are dropped silently.
func (b *Bus) enqueue(item queued) {
	b.mu.RLock()
	hasSubs := len(b.subs) > 0
	b.mu.RUnlock()
	if !hasSubs {
		return
	}
	b.queue <- item
}

// fillScope copies ids from the context scope into empty event fields.
func fillScope(ctx context.Context, sessionID, stageExecutionID *string) {
	scope := ScopeFrom(ctx)
	if *sessionID == "" {
		*sessionID = scope.SessionID
	}
	if *stageExecutionID == "" {
		*stageExecutionID = scope.StageExecutionID
	}
}

// subscriberName returns a short identifier for logging.
func subscriberName(sub Subscriber) string {
	type named interface{ Name() string }
	if n, ok := sub.(named); ok {
		return n.Name()
	}
	return "unnamed"
}
