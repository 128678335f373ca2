package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// GitHubClientIDDefault is the OAuth app used for the device-flow login.
	// It matches the client id registered for the VS Code Copilot integration.
	GitHubClientIDDefault = "Iv1.b507a08c87ecfe98"

	GitHubAPIBaseDefault  = "https://api.github.com"
	GitHubOAuthBase       = "https://github.com"
	CopilotAPIBaseDefault = "https://api.githubcopilot.com"

	// Fixed product-identification headers sent with every upstream call.
	CopilotIntegrationID = "vscode-chat"
	EditorVersion        = "vscode/1.96.0"
	CopilotUserAgent     = "GitHubCopilot/1.168.0"
)

// ServerConfig holds all server configuration.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Verbose     bool   `yaml:"verbose"`
	AccountType string `yaml:"account_type"` // individual, business or enterprise

	// Upstream overrides. Empty values fall back to the account-type default.
	CopilotAPIBase string `yaml:"copilot_api_base"`
	GitHubAPIBase  string `yaml:"github_api_base"`
}

// ClientID returns the GitHub OAuth client ID from env or default.
func ClientID() string {
	if id := os.Getenv("COPILOT_PROXY_CLIENT_ID"); id != "" {
		return id
	}
	return GitHubClientIDDefault
}

// DeviceCodeURL returns the GitHub device authorization endpoint.
func DeviceCodeURL() string {
	return GitHubOAuthBase + "/login/device/code"
}

// OAuthTokenURL returns the GitHub OAuth token endpoint.
func OAuthTokenURL() string {
	return GitHubOAuthBase + "/login/oauth/access_token"
}

// DefaultFromEnv creates a ServerConfig with defaults from environment variables.
func DefaultFromEnv() *ServerConfig {
	return &ServerConfig{
		Host:           "127.0.0.1",
		Port:           envInt("COPILOT_PROXY_PORT", 4141),
		Verbose:        envBool("COPILOT_PROXY_VERBOSE"),
		AccountType:    envOrDefault("COPILOT_PROXY_ACCOUNT_TYPE", "individual"),
		CopilotAPIBase: strings.TrimSpace(os.Getenv("COPILOT_PROXY_API_BASE")),
		GitHubAPIBase:  strings.TrimSpace(os.Getenv("COPILOT_PROXY_GITHUB_API_BASE")),
	}
}

// LoadFile merges settings from a YAML config file into c. Fields absent from
// the file keep their current values.
func (c *ServerConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

// APIBase resolves the Copilot API base URL. Business and enterprise accounts
// are served from dedicated hosts.
func (c *ServerConfig) APIBase() string {
	if c.CopilotAPIBase != "" {
		return strings.TrimRight(c.CopilotAPIBase, "/")
	}
	switch strings.ToLower(strings.TrimSpace(c.AccountType)) {
	case "business":
		return "https://api.business.githubcopilot.com"
	case "enterprise":
		return "https://api.enterprise.githubcopilot.com"
	default:
		return CopilotAPIBaseDefault
	}
}

// GitHubBase resolves the GitHub API base URL used for token exchange and usage.
func (c *ServerConfig) GitHubBase() string {
	if c.GitHubAPIBase != "" {
		return strings.TrimRight(c.GitHubAPIBase, "/")
	}
	return GitHubAPIBaseDefault
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return defaultVal
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func envInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
