package config

import "time"

// Defaults contains system-wide default configurations.
// These values are used when specific components don't specify their own.
type Defaults struct {
	// LLM provider default for all agents/chains
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// Iteration strategy (set to react when empty). Strategy resolution does
	// not read this field: it falls back from stage to agent to react.
	IterationStrategy IterationStrategy `yaml:"iteration_strategy,omitempty"`

	// Max iterations default (forces conclusion when reached)
	MaxIterations *int `yaml:"max_iterations,omitempty"`

	// Maximum number of alerts processed concurrently
	MaxConcurrentAlerts int `yaml:"max_concurrent_alerts,omitempty"`

	// Sessions older than this are deleted by the retention sweeper (0 = keep forever)
	HistoryRetentionDays int `yaml:"history_retention_days,omitempty"`

	// Allowed CORS origins for the HTTP edge
	CORSOrigins []string `yaml:"cors_origins,omitempty"`

	// Per-request budgets for suspension points
	LLMTimeout     time.Duration `yaml:"llm_timeout,omitempty"`
	MCPTimeout     time.Duration `yaml:"mcp_timeout,omitempty"`
	RunbookTimeout time.Duration `yaml:"runbook_timeout,omitempty"`
}

// Built-in fallbacks applied by applyDefaults.
const (
	DefaultMaxIterations       = 10
	DefaultMaxConcurrentAlerts = 5
	DefaultLLMTimeout          = 60 * time.Second
	DefaultMCPTimeout          = 30 * time.Second
	DefaultRunbookTimeout      = 30 * time.Second
)

// applyDefaults fills zero-valued fields with built-in fallbacks.
func (d *Defaults) applyDefaults() {
	if d.IterationStrategy == "" {
		d.IterationStrategy = DefaultIterationStrategy
	}
	if d.MaxIterations == nil {
		d.MaxIterations = IntPtr(DefaultMaxIterations)
	}
	if d.MaxConcurrentAlerts <= 0 {
		d.MaxConcurrentAlerts = DefaultMaxConcurrentAlerts
	}
	if d.LLMTimeout <= 0 {
		d.LLMTimeout = DefaultLLMTimeout
	}
	if d.MCPTimeout <= 0 {
		d.MCPTimeout = DefaultMCPTimeout
	}
	if d.RunbookTimeout <= 0 {
		d.RunbookTimeout = DefaultRunbookTimeout
	}
}
