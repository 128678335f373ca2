package proxy

import (
	"net/http"
	"time"

	"github.com/n0madic/go-copilot-proxy/internal/limits"
	"github.com/n0madic/go-copilot-proxy/internal/types"
)

// handleListModels serves the Copilot model catalog in OpenAI list format.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	mods := s.Registry.GetModels(r.Context())
	writeJSON(w, http.StatusOK, types.ModelList{
		Object: "list",
		Data:   mods,
	})
}

// handleUsage relays the Copilot quota snapshot from the GitHub API.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.Tokens.FetchUsage(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(usage)
}

// handleLimits serves the last rate-limit window observed on an upstream
// response. 404 until at least one proxied request has gone through.
func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	stored := limits.LoadSnapshot()
	if stored == nil {
		writeError(w, http.StatusNotFound, "no rate limit data captured yet")
		return
	}
	out := map[string]any{
		"captured_at":  stored.CapturedAt.UTC().Format(time.RFC3339),
		"limit":        stored.Window.Limit,
		"remaining":    stored.Window.Remaining,
		"used":         stored.Window.Used,
		"used_percent": stored.Window.UsedPercent(),
	}
	if stored.Window.Resource != "" {
		out["resource"] = stored.Window.Resource
	}
	if resetAt := stored.Window.ResetAt(); resetAt != nil {
		out["reset_at"] = resetAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleToken exposes the current Copilot token for sibling tooling that
// talks to the Copilot API directly.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Tokens.CopilotToken(r.Context()); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	tok, ok := s.Tokens.Current()
	if !ok {
		writeError(w, http.StatusUnauthorized, "no Copilot token available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok.Token,
		"expires_at": tok.ExpiresAt,
		"refresh_in": tok.RefreshIn,
	})
}
