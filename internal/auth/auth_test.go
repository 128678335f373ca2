package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func setHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("COPILOT_PROXY_HOME", dir)
	return dir
}

func TestAuthFileRoundTrip(t *testing.T) {
	dir := setHome(t)

	af := &AuthFile{GitHubToken: "gho_test", AccountType: "individual", LastLogin: NowISO8601()}
	if err := WriteAuthFile(af); err != nil {
		t.Fatalf("WriteAuthFile: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "auth.json"))
	if err != nil {
		t.Fatalf("auth.json not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("auth.json permissions: got %o, want 600", perm)
	}

	got, err := ReadAuthFile()
	if err != nil {
		t.Fatalf("ReadAuthFile: %v", err)
	}
	if got.GitHubToken != "gho_test" {
		t.Errorf("GitHubToken: got %q, want %q", got.GitHubToken, "gho_test")
	}
	if got.AccountType != "individual" {
		t.Errorf("AccountType: got %q", got.AccountType)
	}
}

func TestReadAuthFileMissing(t *testing.T) {
	setHome(t)
	if _, err := ReadAuthFile(); err != ErrNoCredentials {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}

func TestReadAuthFileCorrupt(t *testing.T) {
	dir := setHome(t)
	if err := os.WriteFile(filepath.Join(dir, "auth.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadAuthFile(); err != ErrNoCredentials {
		t.Errorf("expected ErrNoCredentials for corrupt file, got %v", err)
	}
}

func TestGitHubTokenPrecedence(t *testing.T) {
	setHome(t)
	if err := WriteAuthFile(&AuthFile{GitHubToken: "from-file"}); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GH_COPILOT_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")
	if got := GitHubToken(); got != "from-file" {
		t.Errorf("expected token from auth file, got %q", got)
	}

	t.Setenv("GITHUB_TOKEN", "from-generic-env")
	if got := GitHubToken(); got != "from-generic-env" {
		t.Errorf("GITHUB_TOKEN should override the file, got %q", got)
	}

	t.Setenv("GH_COPILOT_TOKEN", "from-specific-env")
	if got := GitHubToken(); got != "from-specific-env" {
		t.Errorf("GH_COPILOT_TOKEN should win, got %q", got)
	}
}

func TestGitHubTokenMissing(t *testing.T) {
	setHome(t)
	t.Setenv("GH_COPILOT_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")
	if got := GitHubToken(); got != "" {
		t.Errorf("expected empty token, got %q", got)
	}
}
