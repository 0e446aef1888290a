package stage

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Health summarizes the readiness of a pipeline collaborator.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// ProbeHTTP issues GET url and reports ready for any 2xx response. decorate,
// when set, adds auth or identification headers.
func ProbeHTTP(ctx context.Context, client *http.Client, name, url string, decorate func(*http.Request)) Health {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Unhealthy(name, err.Error())
	}
	if decorate != nil {
		decorate(req)
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Unhealthy(name, err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Unhealthy(name, fmt.Sprintf("health endpoint returned %d", resp.StatusCode))
	}
	return Healthy(name)
}
