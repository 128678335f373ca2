// Package proxy implements the HTTP server exposing OpenAI- and
// Anthropic-compatible routes backed by the Copilot API.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/n0madic/go-copilot-proxy/internal/auth"
	"github.com/n0madic/go-copilot-proxy/internal/config"
	"github.com/n0madic/go-copilot-proxy/internal/metrics"
	"github.com/n0madic/go-copilot-proxy/internal/models"
	"github.com/n0madic/go-copilot-proxy/internal/upstream"
)

// upstreamDoer abstracts the Copilot upstream client so the proxy handlers
// can be tested with a mock without a real network connection.
type upstreamDoer interface {
	Do(context.Context, *upstream.Request) (*upstream.Response, error)
}

// Server is the main proxy HTTP server.
type Server struct {
	Config         *config.ServerConfig
	httpServer     *http.Server
	upstreamClient upstreamDoer
	Tokens         *auth.TokenManager
	Registry       *models.Registry
	cancelBg       context.CancelFunc
}

// New creates a new proxy server with all routes registered.
func New(cfg *config.ServerConfig) *Server {
	tm := auth.NewTokenManager(cfg.GitHubBase())
	uc := upstream.NewClient(cfg.APIBase(), tm, cfg.Verbose)
	reg := models.NewRegistry(uc)

	s := &Server{
		Config:         cfg,
		upstreamClient: uc,
		Tokens:         tm,
		Registry:       reg,
	}

	// Pre-fetch available models in background so the registry is ready for
	// the first incoming request.
	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancelBg = cancel
	go func() {
		done := make(chan struct{})
		go func() {
			reg.GetModels(bgCtx)
			close(done)
		}()
		select {
		case <-done:
		case <-bgCtx.Done():
			slog.Debug("background model prefetch cancelled")
		}
	}()

	mux := s.routes()
	handler := s.corsMiddleware(metrics.Middleware(s.verboseMiddleware(mux)))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
		// ReadTimeout covers only reading the request body; 30s is plenty for any JSON payload.
		ReadTimeout: 30 * time.Second,
		// WriteTimeout must be longer than the upstream SSE timeout (5 min).
		// 600s gives a comfortable margin for long-running streams without
		// hard-cutting clients mid-response.
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Responses API pass-through
	mux.HandleFunc("POST /v1/responses", s.handleResponses)
	mux.HandleFunc("POST /v1/responses/{rest...}", s.handleResponses)

	// OpenAI-compatible routes, with and without the /v1 prefix
	mux.HandleFunc("POST /chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /models", s.handleListModels)
	mux.HandleFunc("GET /v1/models", s.handleListModels)
	mux.HandleFunc("POST /embeddings", s.handleEmbeddings)
	mux.HandleFunc("POST /v1/embeddings", s.handleEmbeddings)

	// Anthropic-compatible routes (Claude Code gateway)
	mux.HandleFunc("POST /v1/messages", s.handleAnthropicMessages)
	mux.HandleFunc("POST /v1/messages/count_tokens", s.handleAnthropicCountTokens)

	// Introspection
	mux.HandleFunc("GET /usage", s.handleUsage)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /token", s.handleToken)
	mux.HandleFunc("GET /v1/token", s.handleToken)
	mux.HandleFunc("GET /limits", s.handleLimits)
	mux.Handle("GET /metrics", metrics.Handler())

	// OPTIONS for CORS preflight
	mux.HandleFunc("OPTIONS /", s.handleOptions)

	return mux
}

// ListenAndServe starts the proxy server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBg != nil {
		s.cancelBg()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware allows requests from any origin. This proxy is designed for
// local use only; wildcard CORS is intentional so browser-based IDE extensions
// can reach it without a per-origin allowlist.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqHeaders := r.Header.Get("Access-Control-Request-Headers")
		if reqHeaders == "" {
			reqHeaders = "Authorization, Content-Type, Accept"
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) verboseMiddleware(next http.Handler) http.Handler {
	if !s.Config.Verbose {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// validateModel checks whether model is in the registry, writing a 400 error
// and returning false if it is not.
func (s *Server) validateModel(w http.ResponseWriter, r *http.Request, model string) bool {
	ok, hint := s.Registry.IsKnownModel(model)
	if ok {
		return true
	}
	msg := fmt.Sprintf("model %q is not available via this endpoint", model)
	if hint != "" {
		msg += "; available models: " + hint
	}
	writeError(w, http.StatusBadRequest, msg)
	return false
}
