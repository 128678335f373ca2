package models

import (
	"strings"

	"github.com/n0madic/go-copilot-proxy/internal/types"
)

// DefaultAnthropicFallbackModel is used when an Anthropic model ID has no
// explicit mapping and the caller supplies no fallback.
const DefaultAnthropicFallbackModel = "claude-sonnet-4"

// anthropicHaikuMappedModel routes Haiku-family IDs to the mini tier.
const anthropicHaikuMappedModel = "gpt-4o-mini"

// StaticFallback returns a minimal model catalog used when the Copilot
// models endpoint has not been reached yet.
func StaticFallback() []types.ModelObject {
	ids := []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4.1",
		"o3-mini",
		"claude-sonnet-4",
	}
	out := make([]types.ModelObject, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.ModelObject{ID: id, Object: "model"})
	}
	return out
}

// ResolveAnthropicModel maps an Anthropic model ID to a Copilot model ID.
// Copilot serves Claude models under their own names, so Sonnet and Opus
// families pass through after normalization; Haiku is routed to the mini
// tier. The bool return value reports whether an explicit rule matched.
func ResolveAnthropicModel(input string, fallback string) (string, bool) {
	if strings.TrimSpace(fallback) == "" {
		fallback = DefaultAnthropicFallbackModel
	}

	name := normalizeAnthropicModelID(input)
	if name == "" {
		return fallback, false
	}

	if strings.Contains(name, "haiku") {
		return anthropicHaikuMappedModel, true
	}

	switch {
	case strings.HasPrefix(name, "claude-sonnet-4"):
		return "claude-sonnet-4", true
	case strings.HasPrefix(name, "claude-3-7-sonnet"):
		return "claude-3.7-sonnet", true
	case strings.HasPrefix(name, "claude-3-5-sonnet"):
		return "claude-3.5-sonnet", true
	case strings.Contains(name, "opus"):
		return "claude-opus-4", true
	}

	return fallback, false
}

// normalizeAnthropicModelID lowercases the ID and strips version pins such as
// "claude-sonnet-4@20250514".
func normalizeAnthropicModelID(input string) string {
	name := strings.ToLower(strings.TrimSpace(input))
	if name == "" {
		return ""
	}
	name = strings.SplitN(name, "@", 2)[0]
	return name
}
