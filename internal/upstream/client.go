// Package upstream sends requests to the Copilot API and exposes the raw
// streaming responses to the proxy handlers.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/n0madic/go-copilot-proxy/internal/config"
)

// upstreamHTTPTimeout is the maximum time allowed for an upstream request.
// SSE streams can be long-lived, so we use a generous timeout.
const upstreamHTTPTimeout = 5 * time.Minute

// httpClient is the shared HTTP client for upstream requests with a timeout.
var httpClient = &http.Client{Timeout: upstreamHTTPTimeout}

// TokenSource supplies a Copilot bearer token for upstream requests.
type TokenSource interface {
	CopilotToken(ctx context.Context) (string, error)
}

// Doer abstracts the HTTP transport so tests can stub upstream responses.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request holds the parameters for a single upstream Copilot API call.
type Request struct {
	Method string
	Path   string // e.g. "/chat/completions"
	Body   []byte
	Accept string // mirrored from the caller; defaults to application/json

	// Token overrides the token source for this request. Handlers use it to
	// pass a caller-supplied bearer token through verbatim.
	Token string

	Initiator string // X-Initiator value: "agent" or "user"
	Vision    bool   // request includes image content
}

// Response wraps the upstream HTTP response. Body is the unread stream and
// must be closed by the caller.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client makes requests to the Copilot API.
type Client struct {
	APIBase string
	Tokens  TokenSource
	Verbose bool
	HTTP    Doer
}

// NewClient creates an upstream client for the given Copilot API base URL.
func NewClient(apiBase string, tokens TokenSource, verbose bool) *Client {
	return &Client{
		APIBase: strings.TrimRight(apiBase, "/"),
		Tokens:  tokens,
		Verbose: verbose,
		HTTP:    httpClient,
	}
}

// Do sends one request to the Copilot API and returns the raw response.
// It makes exactly one attempt; upstream errors are returned as responses,
// not retried, so callers can relay them verbatim.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	token := req.Token
	if token == "" {
		if c.Tokens == nil {
			return nil, fmt.Errorf("no Copilot token source configured")
		}
		var err error
		token, err = c.Tokens.CopilotToken(ctx)
		if err != nil {
			return nil, err
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.APIBase+req.Path, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	accept := req.Accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Copilot-Integration-Id", config.CopilotIntegrationID)
	httpReq.Header.Set("Editor-Version", config.EditorVersion)
	httpReq.Header.Set("User-Agent", config.CopilotUserAgent)
	if req.Initiator != "" {
		httpReq.Header.Set("X-Initiator", req.Initiator)
	}
	if req.Vision {
		httpReq.Header.Set("Copilot-Vision-Request", "true")
	}

	doer := c.HTTP
	if doer == nil {
		doer = httpClient
	}
	resp, err := doer.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream Copilot request failed: %w", err)
	}

	if c.Verbose {
		attrs := []any{"method", method, "path", req.Path, "status", resp.StatusCode}
		if requestID := upstreamRequestID(resp.Header); requestID != "" {
			attrs = append(attrs, "request_id", requestID)
		}
		slog.Info("upstream.response", attrs...)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func upstreamRequestID(headers http.Header) string {
	if headers == nil {
		return ""
	}
	return firstNonEmpty(
		headers.Get("x-github-request-id"),
		headers.Get("x-request-id"),
		headers.Get("request-id"),
		headers.Get("cf-ray"),
	)
}
