package auth

import "errors"

var (
	ErrNoCredentials  = errors.New("no GitHub credentials found; run 'login' first")
	ErrExchangeFailed = errors.New("Copilot token exchange failed")
)
