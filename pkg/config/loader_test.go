package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tarsy.yaml"), []byte(content), 0o644))
	return dir
}

func TestInitialize_BuiltinOnly(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.ChainRegistry.Has("kubernetes-agent-chain"))
	assert.True(t, cfg.AgentRegistry.Has("KubernetesAgent"))
	assert.True(t, cfg.MCPServerRegistry.Has("kubernetes-server"))

	chainID, _, err := cfg.ChainRegistry.GetByAlertType("kubernetes")
	require.NoError(t, err)
	assert.Equal(t, "kubernetes-agent-chain", chainID)
}

func TestInitialize_UserChains(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")

	dir := writeConfig(t, `
mcp_servers:
  argocd-server:
    transport:
      type: http
      url: http://argocd-mcp:8080
agents:
  ArgoCDAgent:
    mcp_servers: [argocd-server]
    iteration_strategy: react-tools
agent_chains:
  argocd-chain:
    alert_types: [argocd-sync-failed]
    stages:
      - name: data-collection
        agent: ArgoCDAgent
      - name: analysis
        agent: ArgoCDAgent
        iteration_strategy: react-final-analysis
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	chainID, chain, err := cfg.ChainRegistry.GetByAlertType("argocd-sync-failed")
	require.NoError(t, err)
	assert.Equal(t, "argocd-chain", chainID)
	require.Len(t, chain.Stages, 2)
	assert.Equal(t, IterationStrategyReactFinalAnalysis, chain.Stages[1].IterationStrategy)

	// Built-in chain still present alongside the user chain
	assert.True(t, cfg.ChainRegistry.Has("kubernetes-agent-chain"))
}

func TestInitialize_UnknownKeysRejected(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")

	dir := writeConfig(t, `
agent_chains:
  my-chain:
    alert_types: [foo]
    surprise_key: true
    stages:
      - name: s1
        agent: KubernetesAgent
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_DuplicateChainIDFails(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")

	dir := writeConfig(t, `
agent_chains:
  kubernetes-agent-chain:
    alert_types: [something-else]
    stages:
      - name: s1
        agent: KubernetesAgent
`)

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrDuplicateChainID)
}

func TestInitialize_AlertTypeConflictFails(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")

	dir := writeConfig(t, `
agent_chains:
  my-kube-chain:
    alert_types: [kubernetes]
    stages:
      - name: s1
        agent: KubernetesAgent
`)

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrAlertTypeConflict)
}

func TestInitialize_EnvOverrides(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")
	t.Setenv("MAX_CONCURRENT_ALERTS", "12")
	t.Setenv("HISTORY_RETENTION_DAYS", "30")
	t.Setenv("CORS_ORIGINS", "http://localhost:5173, https://dashboard.example.com")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Defaults.MaxConcurrentAlerts)
	assert.Equal(t, 30, cfg.Defaults.HistoryRetentionDays)
	assert.Equal(t, []string{"http://localhost:5173", "https://dashboard.example.com"}, cfg.Defaults.CORSOrigins)
}

func TestInitialize_Defaults(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxConcurrentAlerts, cfg.Defaults.MaxConcurrentAlerts)
	assert.Equal(t, DefaultMaxIterations, *cfg.Defaults.MaxIterations)
	assert.Equal(t, DefaultIterationStrategy, cfg.Defaults.IterationStrategy)
	assert.Equal(t, DefaultLLMTimeout, cfg.Defaults.LLMTimeout)
	assert.Equal(t, DefaultMCPTimeout, cfg.Defaults.MCPTimeout)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_TOKEN", "secret-123")

	out := ExpandEnv([]byte("bearer_token: {{.TEST_TOKEN}}"))
	assert.Equal(t, "bearer_token: secret-123", string(out))

	// Literal $ is untouched (regex patterns, passwords)
	out = ExpandEnv([]byte("pattern: ^secret.*$"))
	assert.Equal(t, "pattern: ^secret.*$", string(out))

	// Missing variables expand to empty string
	out = ExpandEnv([]byte("key: {{.DOES_NOT_EXIST_XYZ}}"))
	assert.Equal(t, "key: ", string(out))
}
