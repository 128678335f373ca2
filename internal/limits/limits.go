// Package limits captures rate-limit headers from Copilot API responses and
// persists the latest snapshot so CLI tooling can report quota state without
// issuing extra upstream calls.
package limits

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/n0madic/go-copilot-proxy/internal/auth"
)

const limitsFilename = "rate_limits.json"

// Window represents a single rate limit window as reported by the
// x-ratelimit-* response headers.
type Window struct {
	Limit       int    `json:"limit"`
	Remaining   int    `json:"remaining"`
	Used        int    `json:"used"`
	ResetAtUnix *int64 `json:"reset_at,omitempty"`
	Resource    string `json:"resource,omitempty"`
}

// UsedPercent reports how much of the window has been consumed.
func (w *Window) UsedPercent() float64 {
	if w == nil || w.Limit <= 0 {
		return 0
	}
	pct := float64(w.Used) / float64(w.Limit) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// StoredSnapshot includes a capture timestamp with the window.
type StoredSnapshot struct {
	CapturedAt time.Time
	Window     Window
}

// storedSnapshotDisk is the on-disk JSON format for a stored snapshot.
type storedSnapshotDisk struct {
	CapturedAt string `json:"captured_at"`
	Window     Window `json:"window"`
}

// ParseHeaders extracts rate limit information from upstream response headers.
// Both the limit and remaining headers must be present and numeric; anything
// else returns nil.
func ParseHeaders(headers http.Header) *Window {
	limit, ok := headerInt(headers, "x-ratelimit-limit")
	if !ok || limit <= 0 {
		return nil
	}
	remaining, ok := headerInt(headers, "x-ratelimit-remaining")
	if !ok {
		return nil
	}

	w := &Window{
		Limit:     limit,
		Remaining: remaining,
		Used:      limit - remaining,
		Resource:  headers.Get("x-ratelimit-resource"),
	}
	if used, ok := headerInt(headers, "x-ratelimit-used"); ok {
		w.Used = used
	}
	if reset := headers.Get("x-ratelimit-reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil && epoch > 0 {
			w.ResetAtUnix = &epoch
		}
	}
	return w
}

func headerInt(headers http.Header, key string) (int, bool) {
	v := headers.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// limitsPath is a function variable so tests can override the path.
var limitsPath = func() string {
	return filepath.Join(auth.HomeDir(), limitsFilename)
}

// StoreSnapshot persists a rate limit window to disk.
func StoreSnapshot(w *Window, capturedAt time.Time) {
	if w == nil {
		return
	}
	_ = os.MkdirAll(auth.HomeDir(), 0o700)

	disk := storedSnapshotDisk{
		CapturedAt: capturedAt.UTC().Format(time.RFC3339),
		Window:     *w,
	}

	data, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(limitsPath(), data, 0o600)
}

// LoadSnapshot reads the stored rate limit snapshot from disk.
func LoadSnapshot() *StoredSnapshot {
	data, err := os.ReadFile(limitsPath())
	if err != nil {
		return nil
	}
	var disk storedSnapshotDisk
	if err := json.Unmarshal(data, &disk); err != nil {
		return nil
	}

	if disk.CapturedAt == "" || disk.Window.Limit <= 0 {
		return nil
	}
	captured, err := time.Parse(time.RFC3339, disk.CapturedAt)
	if err != nil {
		return nil
	}
	return &StoredSnapshot{CapturedAt: captured, Window: disk.Window}
}

// RecordFromResponse extracts and stores rate limits from an upstream HTTP response.
func RecordFromResponse(headers http.Header) {
	if headers == nil {
		return
	}
	w := ParseHeaders(headers)
	if w == nil {
		return
	}
	StoreSnapshot(w, time.Now().UTC())
}

// ResetAt reports when the window will reset, if the upstream said so.
func (w *Window) ResetAt() *time.Time {
	if w == nil || w.ResetAtUnix == nil {
		return nil
	}
	t := time.Unix(*w.ResetAtUnix, 0).UTC()
	return &t
}
