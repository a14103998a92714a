package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig builds a minimal valid Config for validator tests.
func validConfig(t *testing.T) *Config {
	t.Helper()

	chains, err := NewChainRegistry(map[string]*ChainConfig{
		"test-chain": {
			AlertTypes: []string{"test"},
			Stages:     []StageConfig{{Name: "analysis", Agent: "TestAgent"}},
		},
	})
	require.NoError(t, err)

	return &Config{
		Defaults: &Defaults{},
		AgentRegistry: NewAgentRegistry(map[string]*AgentConfig{
			"TestAgent": {MCPServers: []string{"test-server"}},
		}),
		MCPServerRegistry: NewMCPServerRegistry(map[string]*MCPServerConfig{
			"test-server": {Transport: TransportConfig{Type: TransportTypeStdio, Command: "test-mcp"}},
		}),
		LLMProviderRegistry: NewLLMProviderRegistry(map[string]*LLMProviderConfig{
			"test-provider": {Type: LLMProviderTypeOpenAI, Model: "gpt-4.1", APIKeyEnv: "TEST_LLM_KEY"},
		}),
		ChainRegistry: chains,
	}
}

func TestValidateAll_Valid(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "key")
	cfg := validConfig(t)
	assert.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateAll_AgentWithoutMCPServers(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "key")
	cfg := validConfig(t)
	cfg.AgentRegistry = NewAgentRegistry(map[string]*AgentConfig{
		"TestAgent": {MCPServers: nil},
	})

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one MCP server required")
}

func TestValidateAll_AgentReferencesMissingServer(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "key")
	cfg := validConfig(t)
	cfg.AgentRegistry = NewAgentRegistry(map[string]*AgentConfig{
		"TestAgent": {MCPServers: []string{"ghost-server"}},
	})

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ghost-server" not found`)
}

func TestValidateAll_AgentReferencesDisabledServer(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "key")
	cfg := validConfig(t)
	cfg.MCPServerRegistry = NewMCPServerRegistry(map[string]*MCPServerConfig{
		"test-server": {
			Enabled:   BoolPtr(false),
			Transport: TransportConfig{Type: TransportTypeStdio, Command: "test-mcp"},
		},
	})

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestValidateAll_ChainReferencesMissingAgent(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "key")
	cfg := validConfig(t)
	chains, err := NewChainRegistry(map[string]*ChainConfig{
		"test-chain": {
			AlertTypes: []string{"test"},
			Stages:     []StageConfig{{Name: "analysis", Agent: "GhostAgent"}},
		},
	})
	require.NoError(t, err)
	cfg.ChainRegistry = chains

	err = NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `agent "GhostAgent" not found`)
}

func TestValidateAll_DuplicateStageNames(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "key")
	cfg := validConfig(t)
	chains, err := NewChainRegistry(map[string]*ChainConfig{
		"test-chain": {
			AlertTypes: []string{"test"},
			Stages: []StageConfig{
				{Name: "analysis", Agent: "TestAgent"},
				{Name: "analysis", Agent: "TestAgent"},
			},
		},
	})
	require.NoError(t, err)
	cfg.ChainRegistry = chains

	err = NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate stage name")
}

func TestValidateAll_InvalidStageStrategy(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "key")
	cfg := validConfig(t)
	chains, err := NewChainRegistry(map[string]*ChainConfig{
		"test-chain": {
			AlertTypes: []string{"test"},
			Stages:     []StageConfig{{Name: "analysis", Agent: "TestAgent", IterationStrategy: "free-jazz"}},
		},
	})
	require.NoError(t, err)
	cfg.ChainRegistry = chains

	err = NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid strategy")
}

func TestValidateAll_NoCredential(t *testing.T) {
	cfg := validConfig(t)
	// TEST_LLM_KEY deliberately unset

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no LLM provider credential")
}
