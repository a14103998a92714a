package config

import "time"

// GitHubConfig holds GitHub integration settings (runbook-source credential).
type GitHubConfig struct {
	TokenEnv string
}

// RunbookConfig holds runbook fetch settings.
type RunbookConfig struct {
	CacheTTL       time.Duration
	AllowedDomains []string
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	Enabled  bool
	TokenEnv string
	Channel  string
}

// SystemYAMLConfig groups system-wide infrastructure settings from YAML.
type SystemYAMLConfig struct {
	GitHub   *GitHubYAMLConfig   `yaml:"github,omitempty"`
	Runbooks *RunbooksYAMLConfig `yaml:"runbooks,omitempty"`
	Slack    *SlackYAMLConfig    `yaml:"slack,omitempty"`
}

// GitHubYAMLConfig holds GitHub integration settings from YAML.
type GitHubYAMLConfig struct {
	TokenEnv string `yaml:"token_env,omitempty"` // Defaults to "GITHUB_TOKEN" if omitted
}

// RunbooksYAMLConfig holds runbook system settings from YAML.
type RunbooksYAMLConfig struct {
	CacheTTL       string   `yaml:"cache_ttl,omitempty"` // Parsed to time.Duration
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`
}

// SlackYAMLConfig holds Slack notification settings from YAML.
type SlackYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}
