package config

import (
	"fmt"
	"os"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: MCP servers → agents → LLM providers → chains.
	// This ensures dependencies are validated before dependents.

	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}

	if err := v.validateAgents(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateChains(); err != nil {
		return fmt.Errorf("chain validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateMCPServers() error {
	for id, server := range v.cfg.MCPServerRegistry.GetAll() {
		if !server.Transport.Type.IsValid() {
			return NewValidationError("mcp_server", id, "transport.type",
				fmt.Errorf("invalid transport type: %q", server.Transport.Type))
		}
		switch server.Transport.Type {
		case TransportTypeStdio:
			if server.Transport.Command == "" {
				return NewValidationError("mcp_server", id, "transport.command",
					fmt.Errorf("required for stdio transport"))
			}
		case TransportTypeHTTP, TransportTypeSSE:
			if server.Transport.URL == "" {
				return NewValidationError("mcp_server", id, "transport.url",
					fmt.Errorf("required for %s transport", server.Transport.Type))
			}
		}
	}
	return nil
}

func (v *ConfigValidator) validateAgents() error {
	for name, agent := range v.cfg.AgentRegistry.GetAll() {
		if len(agent.MCPServers) == 0 {
			return NewValidationError("agent", name, "mcp_servers",
				fmt.Errorf("at least one MCP server required"))
		}

		for _, serverID := range agent.MCPServers {
			server, err := v.cfg.MCPServerRegistry.Get(serverID)
			if err != nil {
				return NewValidationError("agent", name, "mcp_servers",
					fmt.Errorf("MCP server %q not found", serverID))
			}
			if !server.IsEnabled() {
				return NewValidationError("agent", name, "mcp_servers",
					fmt.Errorf("MCP server %q is disabled", serverID))
			}
		}

		if agent.IterationStrategy != "" && !agent.IterationStrategy.IsValid() {
			return NewValidationError("agent", name, "iteration_strategy",
				fmt.Errorf("invalid strategy: %s", agent.IterationStrategy))
		}

		if agent.MaxIterations != nil && *agent.MaxIterations < 1 {
			return NewValidationError("agent", name, "max_iterations",
				fmt.Errorf("must be at least 1"))
		}
	}
	return nil
}

func (v *ConfigValidator) validateLLMProviders() error {
	providers := v.cfg.LLMProviderRegistry.GetAll()
	if len(providers) == 0 {
		return NewValidationError("llm_provider", "", "",
			fmt.Errorf("at least one LLM provider required"))
	}

	for name, provider := range providers {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type",
				fmt.Errorf("invalid provider type: %q", provider.Type))
		}
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model",
				fmt.Errorf("required"))
		}
	}

	// At least one configured provider must have its credential present.
	// The default provider (when set) must exist.
	if v.cfg.Defaults.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(v.cfg.Defaults.LLMProvider) {
		return NewValidationError("llm_provider", v.cfg.Defaults.LLMProvider, "",
			fmt.Errorf("default provider not found in registry"))
	}
	anyCredential := false
	for _, provider := range providers {
		if provider.APIKeyEnv == "" || os.Getenv(provider.APIKeyEnv) != "" {
			anyCredential = true
			break
		}
	}
	if !anyCredential {
		return NewValidationError("llm_provider", "", "api_key_env",
			fmt.Errorf("no LLM provider credential found in environment"))
	}

	return nil
}

func (v *ConfigValidator) validateChains() error {
	for chainID, chain := range v.cfg.ChainRegistry.GetAll() {
		if len(chain.AlertTypes) == 0 {
			return NewValidationError("chain", chainID, "alert_types",
				fmt.Errorf("at least one alert type required"))
		}
		if len(chain.Stages) == 0 {
			return NewValidationError("chain", chainID, "stages",
				fmt.Errorf("at least one stage required"))
		}

		seen := make(map[string]bool, len(chain.Stages))
		for i, stage := range chain.Stages {
			if stage.Name == "" {
				return NewValidationError("chain", chainID, fmt.Sprintf("stages[%d].name", i),
					fmt.Errorf("required"))
			}
			if seen[stage.Name] {
				return NewValidationError("chain", chainID, fmt.Sprintf("stages[%d].name", i),
					fmt.Errorf("duplicate stage name %q", stage.Name))
			}
			seen[stage.Name] = true

			if stage.Agent == "" {
				return NewValidationError("chain", chainID, fmt.Sprintf("stages[%d].agent", i),
					fmt.Errorf("required"))
			}
			if !v.cfg.AgentRegistry.Has(stage.Agent) {
				return NewValidationError("chain", chainID, fmt.Sprintf("stages[%d].agent", i),
					fmt.Errorf("agent %q not found", stage.Agent))
			}
			if stage.IterationStrategy != "" && !stage.IterationStrategy.IsValid() {
				return NewValidationError("chain", chainID, fmt.Sprintf("stages[%d].iteration_strategy", i),
					fmt.Errorf("invalid strategy: %s", stage.IterationStrategy))
			}
		}
	}
	return nil
}
