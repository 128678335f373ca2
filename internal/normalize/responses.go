// Package normalize rewrites messages-style request bodies into the input-item
// schema the upstream responses endpoint expects. Bodies that are already in
// input form, carry no messages, or fail to parse are left untouched.
package normalize

import (
	"encoding/json"
	"strings"

	"github.com/n0madic/go-copilot-proxy/internal/types"
)

// DefaultModel is used when the inbound payload names no model.
const DefaultModel = "gpt-4o"

// ResponsesBody rewrites a messages-style JSON body into the upstream
// responses schema. Returns (normalized, true) when a rewrite happened, and
// (nil, false) when the body should be forwarded unchanged: invalid JSON,
// a top-level "input" key already present, or no "messages" key.
//
// The rewrite is best-effort by design: malformed message entries degrade to
// empty-text items instead of failing, so a caller can always fall back to
// the raw body.
func ResponsesBody(body []byte) ([]byte, bool) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}
	if _, ok := payload["input"]; ok {
		return nil, false
	}
	messagesRaw, ok := payload["messages"]
	if !ok {
		return nil, false
	}

	// A non-array "messages" value yields an empty input list rather than an
	// error; the invariant is that normalization never fails on valid JSON.
	messages, _ := messagesRaw.([]any)
	input := make([]types.ResponsesInputItem, 0, len(messages))
	for _, entry := range messages {
		input = append(input, inputItemFromMessage(entry))
	}

	out := types.ResponsesPayload{
		Model:  modelFromPayload(payload),
		Input:  input,
		Stream: boolField(payload, "stream"),
	}
	if v, ok := payload["reasoning"]; ok {
		out.Reasoning = v
	}
	if v, ok := payload["temperature"]; ok {
		out.Temperature = v
	}
	if v, ok := payload["max_tokens"]; ok {
		out.MaxOutputTokens = v
	} else if v, ok := payload["max_output_tokens"]; ok {
		out.MaxOutputTokens = v
	}

	normalized, err := json.Marshal(out)
	if err != nil {
		return nil, false
	}
	return normalized, true
}

// inputItemFromMessage converts one messages entry into an input item with a
// single input_text part holding the concatenated text of the entry.
func inputItemFromMessage(entry any) types.ResponsesInputItem {
	role := "user"
	var text string

	if m, ok := entry.(map[string]any); ok {
		if r, ok := m["role"].(string); ok && r != "" {
			role = r
		}
		text = textFromContent(m["content"])
	}

	return types.ResponsesInputItem{
		Type: "message",
		Role: role,
		Content: []types.ResponsesContent{
			{Type: "input_text", Text: text},
		},
	}
}

// textFromContent flattens a message content value into plain text. String
// content passes through; part lists are concatenated with no separator,
// where object parts contribute their "text" field and anything else
// contributes the empty string.
func textFromContent(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var b strings.Builder
		for _, part := range c {
			switch p := part.(type) {
			case string:
				b.WriteString(p)
			case map[string]any:
				if t, ok := p["text"].(string); ok {
					b.WriteString(t)
				}
			}
		}
		return b.String()
	default:
		return ""
	}
}

func modelFromPayload(payload map[string]any) string {
	if m, ok := payload["model"].(string); ok && m != "" {
		return m
	}
	if m, ok := payload["selected_model"].(string); ok && m != "" {
		return m
	}
	return DefaultModel
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
