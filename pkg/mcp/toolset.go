package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tarsy-oss/tarsy/pkg/hooks"
)

// ToolNotAvailableError reports a tool call outside the agent's catalog.
// It is surfaced to the LLM as an observation, never raised as a stage
// failure.
type ToolNotAvailableError struct {
	Server    string
	Tool      string
	Available []string // server-prefixed names, sorted
}

// Error returns formatted error message
func (e *ToolNotAvailableError) Error() string {
	return fmt.Sprintf("tool %q is not available on server %q. Available tools: %s",
		e.Tool, e.Server, strings.Join(e.Available, ", "))
}

// ToolSet is the typed tool surface handed to one agent execution: the tool
// catalog across its assigned servers (cached per session) and validated,
// instrumented tool calls.
type ToolSet interface {
	// ListTools returns the catalog across all assigned servers.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// Call executes a tool call. A (server, tool) pair outside the catalog
	// fails with *ToolNotAvailableError; transport and tool errors are
	// returned as-is for the iteration controller to surface as observations.
	Call(ctx context.Context, server, tool string, args map[string]any) (*CallResult, error)

	// Servers returns the assigned server ids.
	Servers() []string
}

// ToolSetFactory builds a tool set for an agent's server subset. The agent
// runtime caches the result per session so the catalog is listed once.
type ToolSetFactory func(serverIDs []string) ToolSet

// NewPoolToolSetFactory returns the production factory over a shared Pool.
func NewPoolToolSetFactory(pool *Pool, bus *hooks.Bus, timeout time.Duration) ToolSetFactory {
	return func(serverIDs []string) ToolSet {
		return NewSessionToolSet(pool, bus, serverIDs, timeout)
	}
}

// SessionToolSet implements ToolSet over the shared Pool for one agent
// execution, emitting an MCPInteractionEvent per operation.
type SessionToolSet struct {
	pool      *Pool
	bus       *hooks.Bus
	serverIDs []string
	timeout   time.Duration

	catalog       []ToolDefinition
	catalogLoaded bool
}

// NewSessionToolSet creates a tool set bound to the given servers.
// timeout is the per-call budget (<=0 disables the deadline).
func NewSessionToolSet(pool *Pool, bus *hooks.Bus, serverIDs []string, timeout time.Duration) *SessionToolSet {
	return &SessionToolSet{
		pool:      pool,
		bus:       bus,
		serverIDs: serverIDs,
		timeout:   timeout,
	}
}

// Servers returns the assigned server ids.
func (t *SessionToolSet) Servers() []string {
	ids := make([]string, len(t.serverIDs))
	copy(ids, t.serverIDs)
	return ids
}

// ListTools gathers the catalog from every assigned server. The result is
// cached for the lifetime of the tool set (one session). Servers that fail
// to list are recorded as tool_list interactions and skipped — partial
// catalogs are better than none.
func (t *SessionToolSet) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if t.catalogLoaded {
		return t.catalog, nil
	}

	var catalog []ToolDefinition
	for _, serverID := range t.serverIDs {
		start := time.Now()
		opCtx, cancel := t.withBudget(ctx)
		tools, err := t.pool.ListTools(opCtx, serverID)
		cancel()

		event := hooks.MCPInteractionEvent{
			Timestamp:       start,
			InteractionType: "tool_list",
			ServerID:        serverID,
			DurationMs:      time.Since(start).Milliseconds(),
		}
		if err != nil {
			event.Error = err.Error()
			t.bus.EmitMCP(ctx, event)
			continue
		}
		event.Result = fmt.Sprintf("%d tools", len(tools))
		t.bus.EmitMCP(ctx, event)

		catalog = append(catalog, tools...)
	}

	t.catalog = catalog
	t.catalogLoaded = true
	return catalog, nil
}

// Call validates and executes one tool call.
func (t *SessionToolSet) Call(ctx context.Context, server, tool string, args map[string]any) (*CallResult, error) {
	if err := t.validate(ctx, server, tool); err != nil {
		return nil, err
	}

	start := time.Now()
	opCtx, cancel := t.withBudget(ctx)
	defer cancel()
	result, err := t.pool.CallTool(opCtx, server, tool, args)

	event := hooks.MCPInteractionEvent{
		Timestamp:       start,
		InteractionType: "tool_call",
		ServerID:        server,
		ToolName:        tool,
		Arguments:       args,
		DurationMs:      time.Since(start).Milliseconds(),
	}
	if err != nil {
		event.Error = err.Error()
	} else {
		event.Result = result.Content
		if result.IsError {
			event.Error = "tool reported error"
		}
	}
	t.bus.EmitMCP(ctx, event)

	return result, err
}

// validate checks the (server, tool) pair against the cached catalog.
func (t *SessionToolSet) validate(ctx context.Context, server, tool string) error {
	catalog, err := t.ListTools(ctx)
	if err != nil {
		return err
	}
	for _, def := range catalog {
		if def.Server == server && def.Tool == tool {
			return nil
		}
	}

	available := make([]string, 0, len(catalog))
	for _, def := range catalog {
		available = append(available, def.Name())
	}
	sort.Strings(available)
	return &ToolNotAvailableError{Server: server, Tool: tool, Available: available}
}

func (t *SessionToolSet) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout > 0 {
		return context.WithTimeout(ctx, t.timeout)
	}
	return context.WithCancel(ctx)
}
