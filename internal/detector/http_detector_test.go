package detector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newHealthServer(t *testing.T, code int, delay time.Duration) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.GET("/health", func(c *gin.Context) {
		if delay > 0 {
			time.Sleep(delay)
		}
		c.JSON(code, gin.H{"status": http.StatusText(code)})
	})
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPDetectorHealthy(t *testing.T) {
	srv := newHealthServer(t, http.StatusOK, 0)
	d := HTTPDetector{URL: srv.URL + "/health", Timeout: time.Second}
	ok, err := d.Probe(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected healthy, got ok=%v err=%v", ok, err)
	}
	if d.Describe() != "http:"+srv.URL+"/health" {
		t.Fatalf("Describe mismatch: %q", d.Describe())
	}
}

func TestHTTPDetectorUnhealthyStatus(t *testing.T) {
	srv := newHealthServer(t, http.StatusServiceUnavailable, 0)
	d := HTTPDetector{URL: srv.URL + "/health", Timeout: time.Second}
	ok, err := d.Probe(context.Background())
	if err != nil {
		t.Fatalf("reachable server must not error: %v", err)
	}
	if ok {
		t.Fatalf("503 must not be healthy")
	}
}

func TestHTTPDetectorNotFoundRoute(t *testing.T) {
	srv := newHealthServer(t, http.StatusOK, 0)
	d := HTTPDetector{URL: srv.URL + "/nope", Timeout: time.Second}
	ok, err := d.Probe(context.Background())
	if err != nil || ok {
		t.Fatalf("expected ok=false err=nil for 404, got ok=%v err=%v", ok, err)
	}
}

func TestHTTPDetectorConnectionRefused(t *testing.T) {
	srv := newHealthServer(t, http.StatusOK, 0)
	url := srv.URL + "/health"
	srv.Close()
	d := HTTPDetector{URL: url, Timeout: time.Second}
	if _, err := d.Probe(context.Background()); err == nil {
		t.Fatalf("expected error for closed server")
	}
}

func TestHTTPDetectorTimeout(t *testing.T) {
	srv := newHealthServer(t, http.StatusOK, 300*time.Millisecond)
	d := HTTPDetector{URL: srv.URL + "/health", Timeout: 50 * time.Millisecond}
	start := time.Now()
	if _, err := d.Probe(context.Background()); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Fatalf("probe exceeded its timeout budget: %v", time.Since(start))
	}
}

func TestHTTPDetectorBadURL(t *testing.T) {
	d := HTTPDetector{URL: "://bad"}
	if _, err := d.Probe(context.Background()); err == nil {
		t.Fatalf("expected error for malformed URL")
	}
}
