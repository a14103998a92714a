// Package mcp provides MCP (Model Context Protocol) client infrastructure:
// a process-wide connection pool keyed by server id, and per-session tool
// sets instrumented through the hook bus.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/version"
)

// InitTimeout bounds a single server connection attempt.
const InitTimeout = 30 * time.Second

// ToolDefinition describes one tool available to an agent. Name() combines
// server and tool as "server.tool", the form the LLM is asked to use.
type ToolDefinition struct {
	Server      string
	Tool        string
	Description string
	InputSchema string // JSON Schema, empty when the server provides none
}

// Name returns the server-prefixed tool name.
func (d ToolDefinition) Name() string {
	return d.Server + "." + d.Tool
}

// CallResult is the outcome of one tool call.
type CallResult struct {
	Content string
	IsError bool
}

// Pool manages SDK sessions shared across alerts, keyed by server id.
// Connections are lazily initialized; per-call mutual exclusion is applied
// per server as required by the underlying transports.
type Pool struct {
	registry *config.MCPServerRegistry

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession

	// Per-server mutexes: init serializes (re)connection, call serializes
	// in-flight operations on a shared transport.
	initMu sync.Map // serverID → *sync.Mutex
	callMu sync.Map // serverID → *sync.Mutex

	logger *slog.Logger
}

// NewPool creates a pool over the given server registry.
func NewPool(registry *config.MCPServerRegistry) *Pool {
	return &Pool{
		registry: registry,
		sessions: make(map[string]*mcpsdk.ClientSession),
		logger:   slog.Default(),
	}
}

// serverMutex returns the named per-server mutex from the given map.
func serverMutex(m *sync.Map, serverID string) *sync.Mutex {
	muI, _ := m.LoadOrStore(serverID, &sync.Mutex{})
	return muI.(*sync.Mutex)
}

// session returns a live session for the server, connecting lazily.
func (p *Pool) session(ctx context.Context, serverID string) (*mcpsdk.ClientSession, error) {
	p.mu.RLock()
	session, exists := p.sessions[serverID]
	p.mu.RUnlock()
	if exists {
		return session, nil
	}

	mu := serverMutex(&p.initMu, serverID)
	mu.Lock()
	defer mu.Unlock()

	// Re-check under the per-server init lock
	p.mu.RLock()
	session, exists = p.sessions[serverID]
	p.mu.RUnlock()
	if exists {
		return session, nil
	}

	serverCfg, err := p.registry.Get(serverID)
	if err != nil {
		return nil, err
	}
	if !serverCfg.IsEnabled() {
		return nil, fmt.Errorf("MCP server %q is disabled", serverID)
	}

	transport, err := createTransport(serverCfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err = client.Connect(initCtx, transport, nil)
	if err != nil {
		// Close the transport if it holds resources (e.g. stdio child process)
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("failed to connect to %q: %w", serverID, err)
	}

	p.mu.Lock()
	p.sessions[serverID] = session
	p.mu.Unlock()

	p.logger.Info("MCP server connected", "server", serverID)
	return session, nil
}

// ListTools returns the tool catalog of one server.
func (p *Pool) ListTools(ctx context.Context, serverID string) ([]ToolDefinition, error) {
	session, err := p.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	mu := serverMutex(&p.callMu, serverID)
	mu.Lock()
	defer mu.Unlock()

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	tools := make([]ToolDefinition, 0, len(result.Tools))
	for _, tool := range result.Tools {
		tools = append(tools, ToolDefinition{
			Server:      serverID,
			Tool:        tool.Name,
			Description: tool.Description,
			InputSchema: marshalSchema(tool.InputSchema),
		})
	}
	return tools, nil
}

// CallTool executes a tool call on the specified server.
func (p *Pool) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*CallResult, error) {
	session, err := p.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	mu := serverMutex(&p.callMu, serverID)
	mu.Lock()
	defer mu.Unlock()

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", serverID, toolName, err)
	}

	return &CallResult{
		Content: extractTextContent(result),
		IsError: result.IsError,
	}, nil
}

// Close shuts down all sessions.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for id, session := range p.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}
	p.sessions = make(map[string]*mcpsdk.ClientSession)
	return firstErr
}

// extractTextContent extracts text from an MCP CallToolResult. Non-text
// content (images, embedded resources) is skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// marshalSchema serializes a tool's InputSchema to a JSON string.
func marshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return ""
	}
	return string(data)
}
