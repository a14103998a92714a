package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TarsyYAMLConfig represents the complete tarsy.yaml file structure.
// Unknown top-level (and nested) keys are rejected by the strict decoder.
type TarsyYAMLConfig struct {
	System      *SystemYAMLConfig           `yaml:"system,omitempty"`
	MCPServers  map[string]*MCPServerConfig `yaml:"mcp_servers,omitempty"`
	Agents      map[string]*AgentConfig     `yaml:"agents,omitempty"`
	AgentChains map[string]*ChainConfig     `yaml:"agent_chains,omitempty"`
	Defaults    *Defaults                   `yaml:"defaults,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load tarsy.yaml from configDir (optional — built-ins alone are valid)
//  2. Expand environment variables
//  3. Parse YAML with strict unknown-key rejection
//  4. Combine built-in + user-defined sources (strict, no silent override)
//  5. Apply environment overrides and default values
//  6. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"chains", stats.Chains,
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	userCfg, err := loadTarsyYAML(configDir)
	if err != nil {
		return nil, NewLoadError("tarsy.yaml", err)
	}

	builtin := GetBuiltinConfig()

	// Agents and MCP servers merge with user taking priority. LLM providers
	// come from the built-in set only; tarsy.yaml has no provider section.
	// Chains merge strictly: a chain_id in both sources is a hard failure, and
	// so is an alert type claimed twice (BuildChainRegistry enforces both).
	agents := mergeAgents(builtin.Agents, userCfg.Agents)
	mcpServers := mergeMCPServers(builtin.MCPServers, userCfg.MCPServers)
	llmProviders := mergeLLMProviders(builtin.LLMProviders, nil)

	chainRegistry, err := BuildChainRegistry(builtin.ChainDefinitions, userCfg.AgentChains)
	if err != nil {
		return nil, err
	}

	defaults := userCfg.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	applyEnvOverrides(defaults)
	defaults.applyDefaults()

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		GitHub:              resolveGitHubConfig(userCfg.System),
		Runbooks:            resolveRunbooksConfig(userCfg.System),
		Slack:               resolveSlackConfig(userCfg.System),
		AgentRegistry:       NewAgentRegistry(agents),
		ChainRegistry:       chainRegistry,
		MCPServerRegistry:   NewMCPServerRegistry(mcpServers),
		LLMProviderRegistry: NewLLMProviderRegistry(llmProviders),
	}, nil
}

// loadTarsyYAML reads and strictly decodes tarsy.yaml. A missing file is not
// an error — built-in configuration alone is a valid deployment.
func loadTarsyYAML(configDir string) (*TarsyYAMLConfig, error) {
	cfg := &TarsyYAMLConfig{}

	path := filepath.Join(configDir, "tarsy.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No tarsy.yaml found, using built-in configuration only", "path", path)
			return cfg, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // unknown keys are rejected
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment configuration on top of YAML defaults.
func applyEnvOverrides(d *Defaults) {
	if v := os.Getenv("DEFAULT_LLM_PROVIDER"); v != "" {
		d.LLMProvider = v
	}
	if v := os.Getenv("MAX_CONCURRENT_ALERTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			d.MaxConcurrentAlerts = n
		} else {
			slog.Warn("Invalid MAX_CONCURRENT_ALERTS, ignoring", "value", v)
		}
	}
	if v := os.Getenv("HISTORY_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			d.HistoryRetentionDays = n
		} else {
			slog.Warn("Invalid HISTORY_RETENTION_DAYS, ignoring", "value", v)
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		d.CORSOrigins = origins
	}
}

// mergeAgents combines built-in and user agents; user wins on name collision.
func mergeAgents(builtin, user map[string]*AgentConfig) map[string]*AgentConfig {
	merged := make(map[string]*AgentConfig, len(builtin)+len(user))
	for name, a := range builtin {
		merged[name] = a
	}
	for name, a := range user {
		merged[name] = a
	}
	return merged
}

// mergeMCPServers combines built-in and user servers; user wins on id collision.
func mergeMCPServers(builtin, user map[string]*MCPServerConfig) map[string]*MCPServerConfig {
	merged := make(map[string]*MCPServerConfig, len(builtin)+len(user))
	for id, s := range builtin {
		merged[id] = s
	}
	for id, s := range user {
		merged[id] = s
	}
	return merged
}

// mergeLLMProviders combines built-in and user providers; user wins on name collision.
func mergeLLMProviders(builtin, user map[string]*LLMProviderConfig) map[string]*LLMProviderConfig {
	merged := make(map[string]*LLMProviderConfig, len(builtin)+len(user))
	for name, p := range builtin {
		merged[name] = p
	}
	for name, p := range user {
		merged[name] = p
	}
	return merged
}

// resolveGitHubConfig resolves GitHub configuration from system YAML, applying defaults.
func resolveGitHubConfig(sys *SystemYAMLConfig) *GitHubConfig {
	cfg := &GitHubConfig{TokenEnv: "GITHUB_TOKEN"}
	if sys != nil && sys.GitHub != nil && sys.GitHub.TokenEnv != "" {
		cfg.TokenEnv = sys.GitHub.TokenEnv
	}
	return cfg
}

// resolveRunbooksConfig resolves runbook configuration from system YAML, applying defaults.
func resolveRunbooksConfig(sys *SystemYAMLConfig) *RunbookConfig {
	cfg := &RunbookConfig{
		CacheTTL:       1 * time.Minute,
		AllowedDomains: []string{"github.com", "raw.githubusercontent.com"},
	}
	if sys == nil || sys.Runbooks == nil {
		return cfg
	}

	rb := sys.Runbooks
	if rb.CacheTTL != "" {
		if d, err := time.ParseDuration(rb.CacheTTL); err == nil {
			cfg.CacheTTL = d
		} else {
			slog.Warn("Invalid cache_ttl in runbooks config, using default",
				"value", rb.CacheTTL, "default", cfg.CacheTTL, "error", err)
		}
	}
	if len(rb.AllowedDomains) > 0 {
		cfg.AllowedDomains = rb.AllowedDomains
	}
	return cfg
}

// resolveSlackConfig resolves Slack configuration from system YAML, applying defaults.
func resolveSlackConfig(sys *SystemYAMLConfig) *SlackConfig {
	cfg := &SlackConfig{TokenEnv: "SLACK_BOT_TOKEN"}
	if sys == nil || sys.Slack == nil {
		return cfg
	}

	s := sys.Slack
	if s.Enabled != nil {
		cfg.Enabled = *s.Enabled
	}
	if s.TokenEnv != "" {
		cfg.TokenEnv = s.TokenEnv
	}
	if s.Channel != "" {
		cfg.Channel = s.Channel
	}
	return cfg
}
