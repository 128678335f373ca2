package types

// ResponsesInputItem represents a single item in the Responses API input array.
type ResponsesInputItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []ResponsesContent `json:"content,omitempty"`
}

// ResponsesContent represents a content part in a Responses API input item.
type ResponsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponsesPayload is the normalized body sent to the upstream responses
// endpoint when an inbound messages-style request is rewritten.
type ResponsesPayload struct {
	Model           string               `json:"model"`
	Input           []ResponsesInputItem `json:"input"`
	Stream          bool                 `json:"stream"`
	Reasoning       any                  `json:"reasoning,omitempty"`
	Temperature     any                  `json:"temperature,omitempty"`
	MaxOutputTokens any                  `json:"max_output_tokens,omitempty"`
}
