package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"stride/internal/api"
)

// fakeDaemon serves canned API responses and records the requests it saw.
type fakeDaemon struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

func newFakeDaemon(t *testing.T, routes map[string]any) *fakeDaemon {
	t.Helper()
	fd := &fakeDaemon{}
	mux := http.NewServeMux()
	for pattern, payload := range routes {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			var buf bytes.Buffer
			_, _ = buf.ReadFrom(r.Body)
			fd.mu.Lock()
			fd.requests = append(fd.requests, r)
			fd.bodies = append(fd.bodies, buf.Bytes())
			fd.mu.Unlock()

			status := http.StatusOK
			if errResp, ok := payload.(api.ErrorResponse); ok {
				status = http.StatusNotFound
				if errResp.Kind == "validation" {
					status = http.StatusBadRequest
				}
			}
			if r.Method == http.MethodPost && status == http.StatusOK {
				status = http.StatusCreated
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(payload)
		})
	}
	fd.server = httptest.NewServer(mux)
	t.Cleanup(fd.server.Close)
	return fd
}

func (f *fakeDaemon) lastBody(t *testing.T) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		t.Fatal("fake daemon received no requests")
	}
	return f.bodies[len(f.bodies)-1]
}

func (f *fakeDaemon) lastRequest(t *testing.T) *http.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("fake daemon received no requests")
	}
	return f.requests[len(f.requests)-1]
}

// runCLI executes the root command against apiURL with a config path that
// does not exist, so defaults apply.
func runCLI(t *testing.T, apiURL string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--config", filepath.Join(t.TempDir(), "missing.toml")}
	if apiURL != "" {
		flags = append(flags, "--api", apiURL)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}
