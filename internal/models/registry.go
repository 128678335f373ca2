// Package models fetches and caches the Copilot model catalog.
package models

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/n0madic/go-copilot-proxy/internal/auth"
	"github.com/n0madic/go-copilot-proxy/internal/types"
	"github.com/n0madic/go-copilot-proxy/internal/upstream"
)

// cacheTTL is how long to cache the remote model list before background refresh.
const cacheTTL = 5 * time.Minute

// Fetcher is the subset of the upstream client the registry needs.
type Fetcher interface {
	Do(ctx context.Context, req *upstream.Request) (*upstream.Response, error)
}

type diskModelsCache struct {
	FetchedAt string              `json:"fetched_at"`
	Models    []types.ModelObject `json:"models"`
}

// Registry fetches and caches the available model list from the Copilot API.
type Registry struct {
	mu        sync.RWMutex
	fetchMu   sync.Mutex // prevents concurrent initial fetches
	client    Fetcher
	models    []types.ModelObject
	lastFetch time.Time
}

// modelsCachePath is a function variable so tests can override where the warm
// cache is read from.
var modelsCachePath = func() string {
	return filepath.Join(auth.HomeDir(), "models_cache.json")
}

// NewRegistry creates a model registry backed by the given upstream client and
// preloads models from the local cache file when available.
func NewRegistry(client Fetcher) *Registry {
	r := &Registry{client: client}
	r.loadFromDiskCache()
	return r
}

// GetModels returns the cached model list, refreshing if needed. If no cache
// is available, the first call blocks to fetch. On stale cache, it refreshes
// in background and returns the cached value immediately. Falls back to the
// static catalog if the remote fetch fails or produces an empty list.
func (r *Registry) GetModels(ctx context.Context) []types.ModelObject {
	r.mu.RLock()
	age := time.Since(r.lastFetch)
	cached := r.models
	r.mu.RUnlock()

	if len(cached) == 0 {
		// First call — synchronous fetch with deduplication.
		r.fetchMu.Lock()
		r.mu.RLock()
		cached = r.models
		r.mu.RUnlock()
		if len(cached) == 0 {
			if err := r.doFetch(ctx); err != nil {
				slog.Warn("models fetch failed, using static fallback", "error", err)
			}
			r.mu.RLock()
			cached = r.models
			r.mu.RUnlock()
		}
		r.fetchMu.Unlock()

		if len(cached) == 0 {
			return StaticFallback()
		}
		return cached
	}

	if age >= cacheTTL {
		// Stale — refresh in background, return current cache now.
		go func() {
			r.fetchMu.Lock()
			defer r.fetchMu.Unlock()
			if err := r.doFetch(context.Background()); err != nil {
				slog.Warn("background models refresh failed", "error", err)
			}
		}()
	}

	return cached
}

// Refresh forces an immediate synchronous fetch and returns the result.
// Returns the fetched models on success, or the static fallback on error.
func (r *Registry) Refresh(ctx context.Context) ([]types.ModelObject, error) {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()
	err := r.doFetch(ctx)
	r.mu.RLock()
	result := r.models
	r.mu.RUnlock()
	if len(result) == 0 {
		return StaticFallback(), err
	}
	return result, err
}

// IsPopulated reports whether the registry has remote data (not just static fallback).
func (r *Registry) IsPopulated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models) > 0
}

// IsKnownModel checks whether id is in the populated registry. Returns
// (true, "") if the registry is empty — permissive when credentials are not
// yet available. Returns (false, hint) if the registry is populated but id is
// not found, where hint lists the available model IDs.
func (r *Registry) IsKnownModel(id string) (bool, string) {
	r.mu.RLock()
	mods := r.models
	r.mu.RUnlock()

	if len(mods) == 0 {
		return true, ""
	}

	var names []string
	for _, m := range mods {
		if m.ID == id {
			return true, ""
		}
		names = append(names, m.ID)
	}
	return false, strings.Join(names, ", ")
}

// doFetch performs the GET /models call against the Copilot API.
// Caller must hold fetchMu.
func (r *Registry) doFetch(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("no upstream client available")
	}

	resp, err := r.client.Do(ctx, &upstream.Request{
		Method: http.MethodGet,
		Path:   "/models",
	})
	if err != nil {
		return fmt.Errorf("models fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models endpoint returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var list types.ModelList
	if err := json.Unmarshal(body, &list); err != nil {
		return fmt.Errorf("failed to parse models response: %w", err)
	}
	if len(list.Data) == 0 {
		return fmt.Errorf("models endpoint returned an empty catalog")
	}

	r.mu.Lock()
	r.models = list.Data
	r.lastFetch = time.Now()
	r.mu.Unlock()

	r.saveToDiskCache(list.Data)
	return nil
}

func (r *Registry) loadFromDiskCache() {
	path := modelsCachePath()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var cache diskModelsCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return
	}
	if len(cache.Models) == 0 {
		return
	}

	var fetchedAt time.Time
	if cache.FetchedAt != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, cache.FetchedAt); err == nil {
			fetchedAt = parsed
		}
	}

	r.mu.Lock()
	r.models = cache.Models
	r.lastFetch = fetchedAt
	r.mu.Unlock()
}

func (r *Registry) saveToDiskCache(mods []types.ModelObject) {
	path := modelsCachePath()
	if path == "" {
		return
	}
	cache := diskModelsCache{
		FetchedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Models:    mods,
	}
	data, err := json.Marshal(cache)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		slog.Warn("failed to write models cache", "path", path, "error", err)
	}
}
