package proxy

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/n0madic/go-copilot-proxy/internal/limits"
	"github.com/n0madic/go-copilot-proxy/internal/metrics"
	"github.com/n0madic/go-copilot-proxy/internal/reasoning"
	"github.com/n0madic/go-copilot-proxy/internal/upstream"
)

const upstreamChatPath = "/chat/completions"

// handleChatCompletions forwards chat completion requests to the Copilot API.
// The body is inspected without a full decode and patched only where the
// upstream requires it; unknown fields pass through untouched.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, ok := readLimitedRequestBody(w, r, writeError, "Failed to read request body")
	if !ok {
		return
	}
	if !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		writeError(w, http.StatusBadRequest, "Missing model")
		return
	}

	// Effort-variant model names ("o3-mini:high") are a client convention,
	// not real catalog entries; translate them before validation.
	if base, effort := reasoning.SplitModelEffort(model); effort != "" {
		model = base
		body, _ = sjson.SetBytes(body, "model", base)
		if !gjson.GetBytes(body, "reasoning_effort").Exists() {
			body, _ = sjson.SetBytes(body, "reasoning_effort", effort)
		}
	}

	if !s.validateModel(w, r, model) {
		return
	}
	stream := gjson.GetBytes(body, "stream").Bool()

	// Copilot rejects the OpenAI "store" flag and only understands
	// max_tokens, so patch both before forwarding.
	body, _ = sjson.DeleteBytes(body, "store")
	if mct := gjson.GetBytes(body, "max_completion_tokens"); mct.Exists() {
		body, _ = sjson.SetBytes(body, "max_tokens", mct.Int())
		body, _ = sjson.DeleteBytes(body, "max_completion_tokens")
	}

	accept := acceptHeader(r)
	if stream {
		accept = "text/event-stream"
	}

	if s.Config.Verbose {
		slog.Info("chat.completions",
			"model", model,
			"stream", stream,
			"messages", gjson.GetBytes(body, "messages.#").Int(),
			"tools", gjson.GetBytes(body, "tools.#").Int(),
		)
	}

	start := time.Now()
	resp, err := s.upstreamClient.Do(r.Context(), &upstream.Request{
		Method:    http.MethodPost,
		Path:      upstreamChatPath,
		Body:      body,
		Accept:    accept,
		Initiator: chatInitiator(body),
		Vision:    hasImageContent(body),
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream(upstreamChatPath, resp.StatusCode, time.Since(start))
	limits.RecordFromResponse(resp.Header)

	relayUpstreamResponse(w, resp.StatusCode, resp.Header, resp.Body)
}

// handleEmbeddings forwards embeddings requests verbatim.
func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	body, ok := readLimitedRequestBody(w, r, writeError, "Failed to read request body")
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.upstreamClient.Do(r.Context(), &upstream.Request{
		Method: http.MethodPost,
		Path:   "/embeddings",
		Body:   body,
		Accept: acceptHeader(r),
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream("/embeddings", resp.StatusCode, time.Since(start))

	relayUpstreamResponse(w, resp.StatusCode, resp.Header, resp.Body)
}

// chatInitiator reports whether a conversation was initiated by an agent or a
// human: any non-user message in the history marks the request as agent
// traffic.
func chatInitiator(body []byte) string {
	initiator := "user"
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		switch msg.Get("role").String() {
		case "user", "system", "developer":
			return true
		default:
			initiator = "agent"
			return false
		}
	})
	return initiator
}

// hasImageContent reports whether any message carries an image part, which
// requires the vision request header upstream.
func hasImageContent(body []byte) bool {
	found := false
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(_, part gjson.Result) bool {
			if strings.HasPrefix(part.Get("type").String(), "image") {
				found = true
				return false
			}
			return true
		})
		return !found
	})
	return found
}
