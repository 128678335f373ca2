package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/n0madic/go-copilot-proxy/internal/types"
)

// TranslateAnthropic converts a Copilot chat completion SSE stream into
// Anthropic Messages SSE events.
func TranslateAnthropic(w http.ResponseWriter, body io.ReadCloser, model string) {
	defer body.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	writeEvent := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\n", event)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	type streamState struct {
		messageID      string
		started        bool
		textBlockOpen  bool
		textBlockIndex int
		nextBlockIndex int
		toolBlockOpen  bool
		toolBlockIndex int
		sawToolUse     bool
		stopReason     string
		usage          types.AnthropicUsage
	}
	st := &streamState{
		messageID:      "msg_" + uuid.NewString(),
		textBlockIndex: -1,
		toolBlockIndex: -1,
	}

	startIfNeeded := func() {
		if st.started {
			return
		}
		st.started = true
		writeEvent("message_start", map[string]any{
			"type": "message_start",
			"message": types.AnthropicMessageResponse{
				ID:           st.messageID,
				Type:         "message",
				Role:         "assistant",
				Model:        model,
				Content:      []types.AnthropicContentOut{},
				StopReason:   nil,
				StopSequence: nil,
				Usage:        types.AnthropicUsage{},
			},
		})
	}

	closeTextBlock := func() {
		if !st.textBlockOpen {
			return
		}
		writeEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": st.textBlockIndex,
		})
		st.textBlockOpen = false
		st.textBlockIndex = -1
	}

	closeToolBlock := func() {
		if !st.toolBlockOpen {
			return
		}
		writeEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": st.toolBlockIndex,
		})
		st.toolBlockOpen = false
		st.toolBlockIndex = -1
	}

	reader := NewReader(body)
	for {
		data, err := reader.Next()
		if err != nil {
			break
		}

		var chunk types.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.ID != "" {
			st.messageID = "msg_" + chunk.ID
		}
		if chunk.Usage != nil {
			st.usage.InputTokens = chunk.Usage.PromptTokens
			st.usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			startIfNeeded()
			closeToolBlock()
			if !st.textBlockOpen {
				st.textBlockOpen = true
				st.textBlockIndex = st.nextBlockIndex
				st.nextBlockIndex++
				writeEvent("content_block_start", map[string]any{
					"type":  "content_block_start",
					"index": st.textBlockIndex,
					"content_block": types.AnthropicContentOut{
						Type: "text",
						Text: "",
					},
				})
			}
			writeEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": st.textBlockIndex,
				"delta": map[string]any{
					"type": "text_delta",
					"text": choice.Delta.Content,
				},
			})
		}

		for _, tc := range choice.Delta.ToolCalls {
			startIfNeeded()
			closeTextBlock()
			st.sawToolUse = true

			// A named tool call opens a fresh block; unnamed deltas extend
			// the currently open one with argument fragments.
			if tc.Function.Name != "" {
				closeToolBlock()
				st.toolBlockOpen = true
				st.toolBlockIndex = st.nextBlockIndex
				st.nextBlockIndex++
				id := tc.ID
				if id == "" {
					id = "toolu_" + uuid.NewString()
				}
				writeEvent("content_block_start", map[string]any{
					"type":  "content_block_start",
					"index": st.toolBlockIndex,
					"content_block": types.AnthropicContentOut{
						Type:  "tool_use",
						ID:    id,
						Name:  tc.Function.Name,
						Input: map[string]any{},
					},
				})
			}
			if tc.Function.Arguments != "" && st.toolBlockOpen {
				writeEvent("content_block_delta", map[string]any{
					"type":  "content_block_delta",
					"index": st.toolBlockIndex,
					"delta": map[string]any{
						"type":         "input_json_delta",
						"partial_json": tc.Function.Arguments,
					},
				})
			}
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			st.stopReason = AnthropicStopReason(*choice.FinishReason, st.sawToolUse)
		}
	}

	if !st.started {
		// Upstream produced nothing; still emit a complete message envelope.
		startIfNeeded()
	}
	closeTextBlock()
	closeToolBlock()

	stopReason := st.stopReason
	if stopReason == "" {
		stopReason = "end_turn"
		if st.sawToolUse {
			stopReason = "tool_use"
		}
	}
	writeEvent("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": st.usage,
	})
	writeEvent("message_stop", map[string]any{
		"type": "message_stop",
	})
}

// AnthropicStopReason maps an OpenAI finish_reason to the Messages API
// stop_reason vocabulary.
func AnthropicStopReason(finishReason string, sawToolUse bool) string {
	switch finishReason {
	case "tool_calls", "function_call":
		return "tool_use"
	case "length":
		return "max_tokens"
	case "stop", "":
		if sawToolUse {
			return "tool_use"
		}
		return "end_turn"
	default:
		return "end_turn"
	}
}
