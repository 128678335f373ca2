package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/n0madic/go-copilot-proxy/internal/config"
)

// refreshMargin is how long before expiry the Copilot token is renewed.
// Exchange is cheap and tokens live ~30 minutes, so renewing a minute early
// avoids racing the upstream clock.
const refreshMargin = time.Minute

// CopilotToken is the short-lived token returned by the exchange endpoint.
type CopilotToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	RefreshIn int    `json:"refresh_in,omitempty"`
}

// Expired reports whether the token needs renewal at time now.
func (t CopilotToken) Expired(now time.Time) bool {
	if t.Token == "" {
		return true
	}
	return now.Add(refreshMargin).Unix() >= t.ExpiresAt
}

// TokenManager exchanges the GitHub OAuth token for short-lived Copilot
// tokens and caches the result. It is the process-wide fallback credential:
// request handlers read it through the TokenSource interface and never
// mutate it.
type TokenManager struct {
	mu         sync.Mutex
	githubBase string
	httpClient *http.Client
	current    CopilotToken
	now        func() time.Time
}

// NewTokenManager creates a token manager exchanging against the given GitHub
// API base URL.
func NewTokenManager(githubBase string) *TokenManager {
	return &TokenManager{
		githubBase: githubBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// CopilotToken returns a valid Copilot token, exchanging the stored GitHub
// token for a fresh one when the cached value is missing or near expiry.
func (tm *TokenManager) CopilotToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if !tm.current.Expired(tm.now()) {
		return tm.current.Token, nil
	}

	ghToken := GitHubToken()
	if ghToken == "" {
		return "", ErrNoCredentials
	}

	tok, err := tm.exchange(ctx, ghToken)
	if err != nil {
		// A stale-but-unexpired token is better than no token at all.
		if tm.current.Token != "" && tm.now().Unix() < tm.current.ExpiresAt {
			slog.Warn("Copilot token refresh failed, reusing cached token", "error", err)
			return tm.current.Token, nil
		}
		return "", err
	}

	tm.current = tok
	return tok.Token, nil
}

// Current returns the cached Copilot token without triggering an exchange.
func (tm *TokenManager) Current() (CopilotToken, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.current, tm.current.Token != ""
}

// exchange trades the GitHub OAuth token for a Copilot token.
// Caller must hold tm.mu.
func (tm *TokenManager) exchange(ctx context.Context, ghToken string) (CopilotToken, error) {
	url := tm.githubBase + "/copilot_internal/v2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CopilotToken{}, err
	}
	req.Header.Set("Authorization", "token "+ghToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Editor-Version", config.EditorVersion)
	req.Header.Set("User-Agent", config.CopilotUserAgent)

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return CopilotToken{}, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("Copilot token exchange rejected", "status", resp.StatusCode, "body", string(body))
		return CopilotToken{}, fmt.Errorf("%w: HTTP %d", ErrExchangeFailed, resp.StatusCode)
	}

	var tok CopilotToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return CopilotToken{}, fmt.Errorf("unable to parse token exchange response: %w", err)
	}
	if tok.Token == "" {
		return CopilotToken{}, ErrExchangeFailed
	}
	return tok, nil
}

// FetchUsage retrieves the Copilot usage/entitlement document for the
// authenticated GitHub user.
func (tm *TokenManager) FetchUsage(ctx context.Context) (json.RawMessage, error) {
	ghToken := GitHubToken()
	if ghToken == "" {
		return nil, ErrNoCredentials
	}

	url := tm.githubBase + "/copilot_internal/user"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+ghToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Editor-Version", config.EditorVersion)
	req.Header.Set("User-Agent", config.CopilotUserAgent)

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usage endpoint returned HTTP %d", resp.StatusCode)
	}
	return json.RawMessage(body), nil
}
