// Package transform converts between the Anthropic Messages API and the chat
// completions dialect the Copilot upstream speaks.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/n0madic/go-copilot-proxy/internal/sse"
	"github.com/n0madic/go-copilot-proxy/internal/types"
)

// AnthropicToChatRequest converts an Anthropic Messages request into a chat
// completion request for the given upstream model.
func AnthropicToChatRequest(req *types.AnthropicMessagesRequest, model string) (*types.ChatCompletionRequest, error) {
	out := &types.ChatCompletionRequest{
		Model:  model,
		Stream: req.Stream,
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxTokens = &mt
	}
	if req.Temperature != nil {
		out.Temperature = req.Temperature
	}
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}

	system, err := types.ParseSystemText(req.System)
	if err != nil {
		return nil, err
	}
	if system != "" {
		out.Messages = append(out.Messages, types.ChatMessage{Role: "system", Content: system})
	}

	for _, msg := range req.Messages {
		role := strings.TrimSpace(strings.ToLower(msg.Role))
		if role == "" {
			continue
		}
		blocks, err := msg.ParseContent()
		if err != nil {
			return nil, err
		}

		converted, err := chatMessagesFromBlocks(role, blocks)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, converted...)
	}

	out.Tools = anthropicToolsToChat(req.Tools)
	if len(out.Tools) > 0 {
		out.ToolChoice = anthropicToolChoiceToChat(req.ToolChoice)
	}

	return out, nil
}

// chatMessagesFromBlocks converts one Anthropic message's content blocks into
// chat messages. Text blocks within a message collapse into one message;
// tool_use blocks become assistant tool_calls and tool_result blocks become
// role "tool" messages.
func chatMessagesFromBlocks(role string, blocks []types.AnthropicContentBlock) ([]types.ChatMessage, error) {
	var out []types.ChatMessage
	var text strings.Builder
	var toolCalls []types.ToolCall

	flush := func() {
		if text.Len() == 0 && len(toolCalls) == 0 {
			return
		}
		msg := types.ChatMessage{Role: normalizeRole(role)}
		if text.Len() > 0 {
			msg.Content = text.String()
		}
		if len(toolCalls) > 0 {
			msg.Role = "assistant"
			msg.ToolCalls = toolCalls
		}
		out = append(out, msg)
		text.Reset()
		toolCalls = nil
	}

	for _, block := range blocks {
		switch strings.TrimSpace(strings.ToLower(block.Type)) {
		case "", "text":
			text.WriteString(block.Text)

		case "tool_use":
			if role != "assistant" {
				return nil, fmt.Errorf("tool_use block in %q message", role)
			}
			callID := strings.TrimSpace(block.ID)
			if callID == "" {
				callID = "call_" + uuid.NewString()
			}
			args := "{}"
			if block.Input != nil {
				if b, err := json.Marshal(block.Input); err == nil {
					args = string(b)
				}
			}
			toolCalls = append(toolCalls, types.ToolCall{
				ID:   callID,
				Type: "function",
				Function: types.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})

		case "tool_result":
			flush()
			callID := strings.TrimSpace(block.ToolUseID)
			if callID == "" {
				callID = strings.TrimSpace(block.ID)
			}
			out = append(out, types.ChatMessage{
				Role:       "tool",
				ToolCallID: callID,
				Content:    types.ParseToolResultText(block.Content),
			})

		default:
			// Unknown blocks that still carry text are kept for compatibility.
			text.WriteString(block.Text)
		}
	}
	flush()

	return out, nil
}

func anthropicToolsToChat(tools []types.AnthropicTool) []types.ChatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]types.ChatTool, 0, len(tools))
	for _, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			continue
		}
		out = append(out, types.ChatTool{
			Type: "function",
			Function: &types.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func anthropicToolChoiceToChat(choice any) any {
	if choice == nil {
		return "auto"
	}
	if s, ok := choice.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "none":
			return "none"
		default:
			return "auto"
		}
	}
	m, ok := choice.(map[string]any)
	if !ok {
		return "auto"
	}

	kind, _ := m["type"].(string)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "none":
		return "none"
	case "any":
		return "required"
	case "tool":
		name, _ := m["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return "required"
		}
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": name},
		}
	default:
		return "auto"
	}
}

// ChatResponseToAnthropic converts a non-streaming chat completion response
// into an Anthropic Messages response.
func ChatResponseToAnthropic(resp *types.ChatCompletionResponse, model string) *types.AnthropicMessageResponse {
	out := &types.AnthropicMessageResponse{
		ID:      "msg_" + uuid.NewString(),
		Type:    "message",
		Role:    "assistant",
		Model:   model,
		Content: []types.AnthropicContentOut{},
	}
	if resp.ID != "" {
		out.ID = "msg_" + resp.ID
	}
	if resp.Usage != nil {
		out.Usage = types.AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	stopReason := "end_turn"
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.Content != "" {
			out.Content = append(out.Content, types.AnthropicContentOut{
				Type: "text",
				Text: choice.Message.Content,
			})
		}
		for _, tc := range choice.Message.ToolCalls {
			var input any = map[string]any{}
			if tc.Function.Arguments != "" {
				var parsed any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &parsed); err == nil {
					input = parsed
				}
			}
			id := tc.ID
			if id == "" {
				id = "toolu_" + uuid.NewString()
			}
			out.Content = append(out.Content, types.AnthropicContentOut{
				Type:  "tool_use",
				ID:    id,
				Name:  tc.Function.Name,
				Input: input,
			})
		}

		finish := ""
		if choice.FinishReason != nil {
			finish = *choice.FinishReason
		}
		stopReason = sse.AnthropicStopReason(finish, len(choice.Message.ToolCalls) > 0)
	}
	out.StopReason = types.StringPtr(stopReason)

	return out
}

// EstimateAnthropicInputTokens returns a deterministic, approximate token
// count suitable for local count_tokens compatibility.
func EstimateAnthropicInputTokens(req *types.AnthropicCountTokensRequest) int {
	chars := 0

	if system, err := types.ParseSystemText(req.System); err == nil {
		chars += runeLen(system)
	}

	for _, msg := range req.Messages {
		chars += 8 + runeLen(msg.Role)
		blocks, err := msg.ParseContent()
		if err != nil {
			chars += runeLen(string(msg.Content))
			continue
		}
		for _, b := range blocks {
			chars += 4 + runeLen(b.Type) + runeLen(b.Text) + runeLen(b.Name)
			if b.Input != nil {
				if raw, err := json.Marshal(b.Input); err == nil {
					chars += runeLen(string(raw))
				}
			}
			chars += runeLen(types.ParseToolResultText(b.Content))
		}
	}

	for _, tool := range req.Tools {
		chars += 12 + runeLen(tool.Name) + runeLen(tool.Description)
		if b, err := json.Marshal(tool.InputSchema); err == nil {
			chars += runeLen(string(b))
		}
	}

	if chars <= 0 {
		return 1
	}
	tokens := chars / 4
	if chars%4 != 0 {
		tokens++
	}
	return tokens
}

func normalizeRole(role string) string {
	switch role {
	case "assistant":
		return "assistant"
	default:
		return "user"
	}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
