package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) CopilotToken(ctx context.Context) (string, error) {
	return s.token, s.err
}

func TestDoSetsCopilotHeaders(t *testing.T) {
	var got http.Header
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens{token: "tid.abc"}, false)
	resp, err := c.Do(context.Background(), &Request{
		Path: "/chat/completions",
		Body: []byte(`{"model":"gpt-4o"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if gotMethod != http.MethodPost {
		t.Errorf("method: got %s, want POST", gotMethod)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path: got %s", gotPath)
	}
	checks := map[string]string{
		"Authorization":          "Bearer tid.abc",
		"Content-Type":           "application/json",
		"Accept":                 "application/json",
		"Copilot-Integration-Id": "vscode-chat",
		"Editor-Version":         "vscode/1.96.0",
		"User-Agent":             "GitHubCopilot/1.168.0",
	}
	for name, want := range checks {
		if v := got.Get(name); v != want {
			t.Errorf("header %s: got %q, want %q", name, v, want)
		}
	}
	if got.Get("X-Initiator") != "" {
		t.Error("X-Initiator must be absent when not requested")
	}
	if got.Get("Copilot-Vision-Request") != "" {
		t.Error("Copilot-Vision-Request must be absent when not requested")
	}
}

func TestDoOptionalHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens{token: "tok"}, false)
	resp, err := c.Do(context.Background(), &Request{
		Path:      "/chat/completions",
		Body:      []byte(`{}`),
		Accept:    "text/event-stream",
		Initiator: "agent",
		Vision:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if v := got.Get("Accept"); v != "text/event-stream" {
		t.Errorf("Accept: got %q", v)
	}
	if v := got.Get("X-Initiator"); v != "agent" {
		t.Errorf("X-Initiator: got %q", v)
	}
	if v := got.Get("Copilot-Vision-Request"); v != "true" {
		t.Errorf("Copilot-Vision-Request: got %q", v)
	}
}

func TestDoTokenOverride(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens{err: errors.New("source must not be consulted")}, false)
	resp, err := c.Do(context.Background(), &Request{
		Path:  "/models",
		Token: "caller-token",
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if auth != "Bearer caller-token" {
		t.Errorf("Authorization: got %q", auth)
	}
}

func TestDoTokenSourceError(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", staticTokens{err: errors.New("boom")}, false)
	if _, err := c.Do(context.Background(), &Request{Path: "/models"}); err == nil {
		t.Fatal("expected error from token source")
	}
}

func TestDoGetHasNoContentType(t *testing.T) {
	var got http.Header
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotMethod = r.Method
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens{token: "tok"}, false)
	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/models"})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if gotMethod != http.MethodGet {
		t.Errorf("method: got %s", gotMethod)
	}
	if got.Get("Content-Type") != "" {
		t.Error("Content-Type must be absent on bodyless requests")
	}
}

func TestDoRelaysErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens{token: "tok"}, false)
	resp, err := c.Do(context.Background(), &Request{Path: "/chat/completions", Body: []byte(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status: got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "rate limited") {
		t.Errorf("error body not relayed: %s", body)
	}
}

func TestUpstreamRequestID(t *testing.T) {
	h := http.Header{}
	h.Set("cf-ray", "ray-1")
	h.Set("x-github-request-id", "ghid-1")
	if got := upstreamRequestID(h); got != "ghid-1" {
		t.Errorf("got %q, want ghid-1", got)
	}
	if got := upstreamRequestID(nil); got != "" {
		t.Errorf("nil headers: got %q", got)
	}
}
