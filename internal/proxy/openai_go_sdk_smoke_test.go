package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// The smoke tests drive the proxy through the official OpenAI Go SDK to
// catch wire-format regressions a hand-rolled client would miss.

func newSDKSmokeHTTPServer(t *testing.T, f *fakeUpstream) *httptest.Server {
	t.Helper()
	s := newTestServer(t, f)
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return srv
}

func newOpenAISDKClient(baseURL string) openai.Client {
	return openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey("test-key"),
	)
}

func TestOpenAIGoSDKSmokeChatCompletions(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	f := &fakeUpstream{
		header: header,
		body: `{
			"id":"cmpl-sdk-1","object":"chat.completion","created":1700000000,"model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"SDK chat works"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":4,"completion_tokens":3,"total_tokens":7}
		}`,
	}

	httpSrv := newSDKSmokeHTTPServer(t, f)
	client := newOpenAISDKClient(httpSrv.URL + "/v1")

	out, err := client.Chat.Completions.New(context.Background(), openai.ChatCompletionNewParams{
		Model: shared.ChatModel("gpt-4o"),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("hello from sdk"),
		},
	})
	if err != nil {
		t.Fatalf("sdk chat completion failed: %v", err)
	}

	if len(out.Choices) == 0 {
		t.Fatalf("expected non-empty choices, got: %+v", out)
	}
	if got := out.Choices[0].Message.Content; !strings.Contains(got, "SDK chat works") {
		t.Fatalf("unexpected content: %q", got)
	}
	if f.lastReq == nil || f.lastReq.Path != "/chat/completions" {
		t.Fatalf("unexpected upstream request: %+v", f.lastReq)
	}
}

func TestOpenAIGoSDKSmokeChatCompletionsStreaming(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "text/event-stream")
	f := &fakeUpstream{
		header: header,
		body: `data: {"id":"cmpl-sdk-2","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"stream "}}]}

data: {"id":"cmpl-sdk-2","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"works"}}]}

data: {"id":"cmpl-sdk-2","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: [DONE]
`,
	}

	httpSrv := newSDKSmokeHTTPServer(t, f)
	client := newOpenAISDKClient(httpSrv.URL + "/v1")

	stream := client.Chat.Completions.NewStreaming(context.Background(), openai.ChatCompletionNewParams{
		Model: shared.ChatModel("gpt-4o"),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("hello"),
		},
	})

	var text strings.Builder
	var sawFinish bool
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			text.WriteString(choice.Delta.Content)
			if choice.FinishReason == "stop" {
				sawFinish = true
			}
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("chat stream failed: %v", err)
	}
	if text.String() != "stream works" {
		t.Fatalf("streamed text: %q", text.String())
	}
	if !sawFinish {
		t.Fatal("expected stop finish_reason in sdk stream")
	}
	if f.lastReq.Accept != "text/event-stream" {
		t.Fatalf("upstream accept: %q", f.lastReq.Accept)
	}
}
