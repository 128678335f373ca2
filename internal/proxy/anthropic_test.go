package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/n0madic/go-copilot-proxy/internal/types"
)

func postMessages(s *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return serveRequest(s, req)
}

func TestAnthropicMessagesNonStreaming(t *testing.T) {
	f := &fakeUpstream{body: `{
		"id":"cmpl-7","object":"chat.completion","model":"claude-sonnet-4",
		"choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}
	}`}
	s := newTestServer(t, f)

	rec := postMessages(s, `{
		"model":"claude-sonnet-4",
		"max_tokens":100,
		"messages":[{"role":"user","content":"hi"}]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body %s", rec.Code, rec.Body.String())
	}

	var resp types.AnthropicMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != "message" || resp.Role != "assistant" {
		t.Errorf("envelope: %+v", resp)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "Hello!" {
		t.Errorf("content: %+v", resp.Content)
	}
	if resp.StopReason == nil || *resp.StopReason != "end_turn" {
		t.Errorf("stop_reason: %v", resp.StopReason)
	}
	if resp.Usage.InputTokens != 4 || resp.Usage.OutputTokens != 2 {
		t.Errorf("usage: %+v", resp.Usage)
	}

	// Upstream request must be a chat completion for the mapped model.
	var sent types.ChatCompletionRequest
	if err := json.Unmarshal(f.lastReq.Body, &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Model != "claude-sonnet-4" {
		t.Errorf("upstream model: %q", sent.Model)
	}
	if sent.MaxTokens == nil || *sent.MaxTokens != 100 {
		t.Errorf("upstream max_tokens: %v", sent.MaxTokens)
	}
	if f.lastReq.Accept != "application/json" {
		t.Errorf("accept: %q", f.lastReq.Accept)
	}
}

func TestAnthropicMessagesStreaming(t *testing.T) {
	f := &fakeUpstream{body: `data: {"id":"cmpl-8","choices":[{"index":0,"delta":{"content":"Hey"}}]}` + "\n\n" +
		`data: {"id":"cmpl-8","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		"data: [DONE]\n\n"}
	s := newTestServer(t, f)

	rec := postMessages(s, `{
		"model":"claude-sonnet-4",
		"stream":true,
		"messages":[{"role":"user","content":"hi"}]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type: %q", ct)
	}
	if f.lastReq.Accept != "text/event-stream" {
		t.Errorf("upstream accept: %q", f.lastReq.Accept)
	}
	out := rec.Body.String()
	for _, marker := range []string{"event: message_start", "text_delta", "event: message_stop"} {
		if !strings.Contains(out, marker) {
			t.Errorf("missing %q in stream:\n%s", marker, out)
		}
	}
}

func TestAnthropicMessagesValidation(t *testing.T) {
	s := newTestServer(t, &fakeUpstream{})

	for name, body := range map[string]string{
		"invalid json": `{"model":`,
		"no messages":  `{"model":"claude-sonnet-4","messages":[]}`,
	} {
		rec := postMessages(s, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", name, rec.Code)
			continue
		}
		var resp types.AnthropicErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if resp.Type != "error" || resp.Error.Type != "invalid_request_error" {
			t.Errorf("%s: envelope %+v", name, resp)
		}
	}
}

func TestAnthropicMessagesUpstreamError(t *testing.T) {
	f := &fakeUpstream{status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`}
	s := newTestServer(t, f)

	rec := postMessages(s, `{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status: %d", rec.Code)
	}
	var resp types.AnthropicErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Type != "rate_limit_error" || resp.Error.Message != "slow down" {
		t.Errorf("error: %+v", resp.Error)
	}
}

func TestAnthropicCountTokens(t *testing.T) {
	s := newTestServer(t, &fakeUpstream{})

	req := httptest.NewRequest("POST", "/v1/messages/count_tokens", strings.NewReader(`{
		"model":"claude-sonnet-4",
		"messages":[{"role":"user","content":"`+strings.Repeat("a", 200)+`"}]
	}`))
	rec := serveRequest(s, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var resp types.AnthropicCountTokensResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.InputTokens < 50 {
		t.Errorf("input_tokens: %d", resp.InputTokens)
	}
}

func TestAnthropicErrorType(t *testing.T) {
	tests := map[int]string{
		401: "authentication_error",
		403: "authentication_error",
		429: "rate_limit_error",
		400: "invalid_request_error",
		404: "invalid_request_error",
		500: "api_error",
		502: "api_error",
	}
	for status, want := range tests {
		if got := anthropicErrorType(status); got != want {
			t.Errorf("anthropicErrorType(%d): got %q, want %q", status, got, want)
		}
	}
}
