// Package reasoning maps client-side effort naming conventions onto the
// reasoning_effort parameter of the chat completions API.
package reasoning

import "strings"

var validEfforts = map[string]bool{
	"minimal": true,
	"low":     true,
	"medium":  true,
	"high":    true,
}

// ValidEffort reports whether e is an accepted reasoning effort level.
func ValidEffort(e string) bool {
	return validEfforts[strings.ToLower(strings.TrimSpace(e))]
}

// SplitModelEffort splits a trailing effort qualifier off a model name and
// returns the base model plus the effort, or the input unchanged and "" when
// no qualifier is present.
func SplitModelEffort(model string) (string, string) {
	trimmed := strings.TrimSpace(model)
	s := strings.ToLower(trimmed)
	if s == "" {
		return trimmed, ""
	}

	// Colon separator is the Ollama convention (e.g. "o3-mini:high").
	if idx := strings.LastIndex(s, ":"); idx > 0 {
		if maybe := strings.TrimSpace(s[idx+1:]); validEfforts[maybe] {
			return strings.TrimSpace(trimmed[:idx]), maybe
		}
	}

	// Hyphen and underscore separators cover the OpenAI-style variant names
	// that clients may send (e.g. "o4-mini-high", "gpt-5_medium").
	for _, sep := range []string{"-", "_"} {
		for effort := range validEfforts {
			suffix := sep + effort
			if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
				return trimmed[:len(trimmed)-len(suffix)], effort
			}
		}
	}

	return trimmed, ""
}
