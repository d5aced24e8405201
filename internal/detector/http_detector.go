package detector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds a single health probe.
const DefaultProbeTimeout = 2 * time.Second

// HTTPDetector issues one GET against URL per probe. A 2xx reply is healthy,
// any other reply is reachable but unhealthy, and a transport failure or
// timeout is an error. It never retries; callers own the retry policy.
type HTTPDetector struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// Probe performs a single bounded liveness check.
func (d HTTPDetector) Probe(ctx context.Context) (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return false, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", d.URL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (d HTTPDetector) Describe() string { return "http:" + d.URL }

func (d HTTPDetector) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}
