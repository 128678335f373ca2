package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/n0madic/go-copilot-proxy/internal/config"
)

// DeviceFlowConfig builds the oauth2.Config for the GitHub device
// authorization grant. The "read:user" scope is all the Copilot token
// exchange endpoint requires.
func DeviceFlowConfig(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: config.DeviceCodeURL(),
			TokenURL:      config.OAuthTokenURL(),
			AuthStyle:     oauth2.AuthStyleInParams,
		},
		Scopes: []string{"read:user"},
	}
}

// PromptFunc presents the device-flow user code and verification URL to the
// user while Login polls for completion.
type PromptFunc func(userCode, verificationURI string)

// Login runs the GitHub device flow to completion and returns an AuthFile
// ready to persist. It blocks until the user approves the device or ctx is
// cancelled.
func Login(ctx context.Context, clientID string, prompt PromptFunc) (*AuthFile, error) {
	cfg := DeviceFlowConfig(clientID)

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("device authorization request failed: %w", err)
	}

	if prompt != nil {
		prompt(da.UserCode, da.VerificationURI)
	}

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("device token polling failed: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, ErrNoCredentials
	}

	return &AuthFile{
		GitHubToken: tok.AccessToken,
		LastLogin:   NowISO8601(),
	}, nil
}
