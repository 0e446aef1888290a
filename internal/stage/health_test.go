package stage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbeHTTP(t *testing.T) {
	status := http.StatusOK
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(status)
	}))
	defer srv.Close()

	decorate := func(req *http.Request) { req.Header.Set("User-Agent", "probe-test") }
	health := ProbeHTTP(context.Background(), srv.Client(), "gateway:http", srv.URL+"/health", decorate)
	if !health.Ready || health.Name != "gateway:http" {
		t.Fatalf("expected ready health, got %+v", health)
	}
	if gotAgent != "probe-test" {
		t.Fatalf("expected decorated request, got agent %q", gotAgent)
	}

	status = http.StatusServiceUnavailable
	health = ProbeHTTP(context.Background(), srv.Client(), "gateway:http", srv.URL+"/health", nil)
	if health.Ready || health.Detail != "health endpoint returned 503" {
		t.Fatalf("expected 503 detail, got %+v", health)
	}
}

func TestProbeHTTPUnreachable(t *testing.T) {
	health := ProbeHTTP(context.Background(), nil, "analysis:http", "http://127.0.0.1:1/health", nil)
	if health.Ready || health.Detail == "" {
		t.Fatalf("expected unreachable detail, got %+v", health)
	}
}
