package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/n0madic/go-copilot-proxy/internal/limits"
	"github.com/n0madic/go-copilot-proxy/internal/metrics"
	"github.com/n0madic/go-copilot-proxy/internal/normalize"
	"github.com/n0madic/go-copilot-proxy/internal/upstream"
)

const (
	missingCopilotTokenError = "Missing Copilot token"
	responsesProxyError      = "Failed to proxy request to /v1/responses"

	// placeholderToken signals "use the server's shared credential instead
	// of a caller-supplied one".
	placeholderToken = "dummy"

	upstreamResponsesPath = "/v1/responses"
)

// handleResponses forwards POST /v1/responses (and any subpath) to the
// upstream responses endpoint. Messages-style bodies are rewritten into the
// input-item schema; everything else passes through unchanged. Exactly one
// upstream attempt is made per inbound request.
func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token == "" || token == placeholderToken {
		shared, err := s.Tokens.CopilotToken(r.Context())
		if err != nil {
			writeFlatError(w, http.StatusUnauthorized, missingCopilotTokenError)
			return
		}
		token = shared
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.Error("responses proxy failed", "stage", "read_body", "error", err)
		writeFlatError(w, http.StatusInternalServerError, responsesProxyError)
		return
	}

	// Rewrites are best-effort: a body the normalizer declines is forwarded
	// as-is, and the caller never sees a normalization failure.
	if normalized, ok := normalize.ResponsesBody(body); ok {
		body = normalized
	}

	start := time.Now()
	resp, err := s.upstreamClient.Do(r.Context(), &upstream.Request{
		Method: http.MethodPost,
		Path:   upstreamResponsesPath,
		Body:   body,
		Accept: acceptHeader(r),
		Token:  token,
	})
	if err != nil {
		slog.Error("responses proxy failed", "stage", "upstream", "error", err)
		writeFlatError(w, http.StatusInternalServerError, responsesProxyError)
		return
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream(upstreamResponsesPath, resp.StatusCode, time.Since(start))
	limits.RecordFromResponse(resp.Header)

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		slog.Error("upstream responses error", "status", resp.StatusCode, "body", string(errBody))
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		w.Write(errBody)
		return
	}

	relayUpstreamResponse(w, resp.StatusCode, resp.Header, resp.Body)
}
