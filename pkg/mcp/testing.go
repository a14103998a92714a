package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ScriptedCall records one tool call made against a ScriptedToolSet.
type ScriptedCall struct {
	Server string
	Tool   string
	Args   map[string]any
}

// ScriptedToolSet implements ToolSet with a fixed catalog and scripted
// results, for controller and orchestrator tests.
type ScriptedToolSet struct {
	mu      sync.Mutex
	catalog []ToolDefinition
	results map[string]*CallResult // "server.tool" → result
	errs    map[string]error       // "server.tool" → error

	Calls []ScriptedCall
}

// NewScriptedToolSet creates a tool set exposing the given catalog.
func NewScriptedToolSet(catalog ...ToolDefinition) *ScriptedToolSet {
	return &ScriptedToolSet{
		catalog: catalog,
		results: make(map[string]*CallResult),
		errs:    make(map[string]error),
	}
}

// SetResult scripts the result for a tool.
func (t *ScriptedToolSet) SetResult(server, tool, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results[server+"."+tool] = &CallResult{Content: content}
}

// SetError scripts a transport/tool error for a tool.
func (t *ScriptedToolSet) SetError(server, tool string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs[server+"."+tool] = err
}

// ListTools implements ToolSet.
func (t *ScriptedToolSet) ListTools(context.Context) ([]ToolDefinition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tools := make([]ToolDefinition, len(t.catalog))
	copy(tools, t.catalog)
	return tools, nil
}

// Servers implements ToolSet.
func (t *ScriptedToolSet) Servers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, def := range t.catalog {
		if !seen[def.Server] {
			seen[def.Server] = true
			ids = append(ids, def.Server)
		}
	}
	return ids
}

// Call implements ToolSet.
func (t *ScriptedToolSet) Call(_ context.Context, server, tool string, args map[string]any) (*CallResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inCatalog := false
	for _, def := range t.catalog {
		if def.Server == server && def.Tool == tool {
			inCatalog = true
			break
		}
	}
	if !inCatalog {
		available := make([]string, 0, len(t.catalog))
		for _, def := range t.catalog {
			available = append(available, def.Name())
		}
		sort.Strings(available)
		return nil, &ToolNotAvailableError{Server: server, Tool: tool, Available: available}
	}

	t.Calls = append(t.Calls, ScriptedCall{Server: server, Tool: tool, Args: args})

	key := server + "." + tool
	if err := t.errs[key]; err != nil {
		return nil, err
	}
	if result, ok := t.results[key]; ok {
		return result, nil
	}
	return nil, fmt.Errorf("no scripted result for %s", key)
}
