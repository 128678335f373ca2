package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AuthFile represents the full auth.json contents.
type AuthFile struct {
	GitHubToken string `json:"github_token"`
	AccountType string `json:"account_type,omitempty"`
	LastLogin   string `json:"last_login,omitempty"`
}

// HomeDir returns the auth storage directory path.
func HomeDir() string {
	if d := os.Getenv("COPILOT_PROXY_HOME"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".copilot-proxy")
}

// ReadAuthFile loads auth.json from the proxy home directory.
func ReadAuthFile() (*AuthFile, error) {
	p := filepath.Join(HomeDir(), "auth.json")
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, ErrNoCredentials
	}
	var af AuthFile
	if err := json.Unmarshal(data, &af); err != nil {
		return nil, ErrNoCredentials
	}
	return &af, nil
}

// WriteAuthFile persists the auth data to the home directory with 0600 permissions.
func WriteAuthFile(af *AuthFile) error {
	dir := HomeDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("unable to create auth home directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(af, "", "  ")
	if err != nil {
		return err
	}
	p := filepath.Join(dir, "auth.json")
	return os.WriteFile(p, data, 0o600)
}

// GitHubToken resolves the long-lived GitHub OAuth token. The environment
// takes precedence over the auth file so headless deployments can avoid the
// device-flow login entirely.
func GitHubToken() string {
	if t := strings.TrimSpace(os.Getenv("GH_COPILOT_TOKEN")); t != "" {
		return t
	}
	if t := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); t != "" {
		return t
	}
	af, err := ReadAuthFile()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(af.GitHubToken)
}

// NowISO8601 returns the current UTC time in ISO 8601 format.
func NowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}
