package proxy

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/n0madic/go-copilot-proxy/internal/types"
)

// maxBodyBytes limits the size of incoming request bodies to prevent memory exhaustion.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError emits the OpenAI-style nested error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	slog.Error("request failed", "status", status, "error", message)
	writeJSON(w, status, types.ErrorResponse{Error: types.ErrorDetail{Message: message}})
}

// writeFlatError emits the flat {"error": "..."} envelope used by the
// responses pass-through route.
func writeFlatError(w http.ResponseWriter, status int, message string) {
	slog.Error("request failed", "status", status, "error", message)
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAnthropicError emits the Messages API error envelope.
func writeAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	slog.Error("request failed", "status", status, "error", message)
	writeJSON(w, status, types.AnthropicErrorResponse{
		Type: "error",
		Error: types.AnthropicErrorBody{
			Type:    errType,
			Message: message,
		},
	})
}

type requestErrorWriter func(http.ResponseWriter, int, string)

func readLimitedRequestBody(
	w http.ResponseWriter,
	r *http.Request,
	writeErr requestErrorWriter,
	readErrMsg string,
) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, http.StatusBadRequest, readErrMsg)
		return nil, false
	}
	return body, true
}

// parseBearerToken strips a case-insensitive "Bearer" prefix from an
// Authorization header value. Returns "" when the header is absent or not a
// bearer credential.
func parseBearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// acceptHeader mirrors the caller's Accept header, defaulting to JSON.
func acceptHeader(r *http.Request) string {
	if accept := strings.TrimSpace(r.Header.Get("Accept")); accept != "" {
		return accept
	}
	return "application/json"
}

func writeSSEHeaders(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(status)
}

// relayBody streams an upstream body to the caller without buffering,
// flushing after every chunk so SSE frames reach the client as they arrive.
func relayBody(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// relayUpstreamResponse propagates the upstream status, content type, and
// body verbatim. Used for both success streams and upstream error payloads.
func relayUpstreamResponse(w http.ResponseWriter, status int, header http.Header, body io.Reader) {
	if ct := header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(status)
	relayBody(w, body)
}
