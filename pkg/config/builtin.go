package config

import "sync"

// BuiltinConfig holds all built-in configuration data compiled into the
// binary: default agents, MCP servers, LLM providers, and chains.
type BuiltinConfig struct {
	Agents           map[string]*AgentConfig
	MCPServers       map[string]*MCPServerConfig
	LLMProviders     map[string]*LLMProviderConfig
	ChainDefinitions map[string]*ChainConfig
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Agents:           initBuiltinAgents(),
		MCPServers:       initBuiltinMCPServers(),
		LLMProviders:     initBuiltinLLMProviders(),
		ChainDefinitions: initBuiltinChains(),
	}
}

func initBuiltinAgents() map[string]*AgentConfig {
	return map[string]*AgentConfig{
		"KubernetesAgent": {
			Description:       "Kubernetes-specialized investigation agent",
			IterationStrategy: IterationStrategyReact,
			MCPServers:        []string{"kubernetes-server"},
		},
	}
}

func initBuiltinMCPServers() map[string]*MCPServerConfig {
	return map[string]*MCPServerConfig{
		"kubernetes-server": {
			ServerType: "kubernetes",
			Transport: TransportConfig{
				Type:    TransportTypeStdio,
				Command: "npx",
				Args: []string{
					"-y",
					"kubernetes-mcp-server@0.0.54",
					"--read-only",
					"--disable-destructive",
					"--kubeconfig",
					"${KUBECONFIG}",
				},
			},
			Instructions: `For Kubernetes operations:
- Be careful with cluster-scoped resource listings in large clusters
- Always prefer namespaced queries when possible
- Cluster-scoped resources (Namespace, Node, ClusterRole, PersistentVolume) should NOT have a namespace parameter
- Namespace-scoped resources (Pod, Deployment, Service, ConfigMap) REQUIRE a namespace parameter`,
		},
	}
}

func initBuiltinLLMProviders() map[string]*LLMProviderConfig {
	return map[string]*LLMProviderConfig{
		"google-default": {
			Type:      LLMProviderTypeGoogle,
			Model:     "gemini-2.5-pro",
			APIKeyEnv: "GOOGLE_API_KEY",
		},
		"openai-default": {
			Type:      LLMProviderTypeOpenAI,
			Model:     "gpt-4.1",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		"anthropic-default": {
			Type:      LLMProviderTypeAnthropic,
			Model:     "claude-sonnet-4-5",
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
	}
}

func initBuiltinChains() map[string]*ChainConfig {
	return map[string]*ChainConfig{
		"kubernetes-agent-chain": {
			AlertTypes:  []string{"kubernetes", "NamespaceTerminating"},
			Description: "Single-stage Kubernetes investigation",
			Stages: []StageConfig{
				{
					Name:  "analysis",
					Agent: "KubernetesAgent",
				},
			},
		},
	}
}
