package proxy

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/n0madic/go-copilot-proxy/internal/metrics"
	"github.com/n0madic/go-copilot-proxy/internal/models"
	"github.com/n0madic/go-copilot-proxy/internal/sse"
	"github.com/n0madic/go-copilot-proxy/internal/transform"
	"github.com/n0madic/go-copilot-proxy/internal/types"
	"github.com/n0madic/go-copilot-proxy/internal/upstream"
)

func writeAnthropicInvalidRequest(w http.ResponseWriter, status int, message string) {
	writeAnthropicError(w, status, "invalid_request_error", message)
}

// handleAnthropicMessages serves POST /v1/messages by translating the
// Messages API request into a Copilot chat completion and the result back.
func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	body, ok := readLimitedRequestBody(w, r, writeAnthropicInvalidRequest, "Failed to read request body")
	if !ok {
		return
	}

	var req types.AnthropicMessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeAnthropicInvalidRequest(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeAnthropicInvalidRequest(w, http.StatusBadRequest, "messages: at least one message is required")
		return
	}

	model, mapped := models.ResolveAnthropicModel(req.Model, "")
	chatReq, err := transform.AnthropicToChatRequest(&req, model)
	if err != nil {
		writeAnthropicInvalidRequest(w, http.StatusBadRequest, err.Error())
		return
	}

	chatBody, err := json.Marshal(chatReq)
	if err != nil {
		writeAnthropicError(w, http.StatusInternalServerError, "api_error", "Failed to encode upstream request")
		return
	}

	if s.Config.Verbose {
		slog.Info("anthropic.messages",
			"requested_model", req.Model,
			"upstream_model", model,
			"mapped", mapped,
			"stream", req.Stream,
			"messages", len(chatReq.Messages),
			"tools", len(chatReq.Tools),
		)
	}

	accept := "application/json"
	if req.Stream {
		accept = "text/event-stream"
	}

	start := time.Now()
	resp, err := s.upstreamClient.Do(r.Context(), &upstream.Request{
		Method:    http.MethodPost,
		Path:      upstreamChatPath,
		Body:      chatBody,
		Accept:    accept,
		Initiator: chatInitiator(chatBody),
	})
	if err != nil {
		writeAnthropicError(w, http.StatusUnauthorized, "authentication_error", err.Error())
		return
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream(upstreamChatPath, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		writeAnthropicError(w, resp.StatusCode, anthropicErrorType(resp.StatusCode), upstreamErrorMessage(errBody))
		return
	}

	if req.Stream {
		writeSSEHeaders(w, http.StatusOK)
		sse.TranslateAnthropic(w, resp.Body, req.Model)
		return
	}

	var chatResp types.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		writeAnthropicError(w, http.StatusBadGateway, "api_error", "Invalid upstream response")
		return
	}
	writeJSON(w, http.StatusOK, transform.ChatResponseToAnthropic(&chatResp, req.Model))
}

// handleAnthropicCountTokens serves POST /v1/messages/count_tokens with a
// local deterministic estimate; no upstream call is made.
func (s *Server) handleAnthropicCountTokens(w http.ResponseWriter, r *http.Request) {
	body, ok := readLimitedRequestBody(w, r, writeAnthropicInvalidRequest, "Failed to read request body")
	if !ok {
		return
	}

	var req types.AnthropicCountTokensRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeAnthropicInvalidRequest(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	writeJSON(w, http.StatusOK, types.AnthropicCountTokensResponse{
		InputTokens: transform.EstimateAnthropicInputTokens(&req),
	})
}

func anthropicErrorType(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "authentication_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

// upstreamErrorMessage extracts a human-readable message from an upstream
// error payload, falling back to the raw body.
func upstreamErrorMessage(body []byte) string {
	var parsed types.ErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "upstream error"
	}
	return msg
}
