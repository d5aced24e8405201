package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeServer struct {
	mu         sync.Mutex
	models     []string
	pullStatus int
	pulls      []pullRequest
	tagsStatus int
	rawTags    string
}

func (f *fakeServer) handler() http.Handler {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.GET("/api/tags", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.tagsStatus != 0 {
			c.Status(f.tagsStatus)
			return
		}
		if f.rawTags != "" {
			c.String(http.StatusOK, f.rawTags)
			return
		}
		list := make([]gin.H, 0, len(f.models))
		for _, m := range f.models {
			list = append(list, gin.H{"name": m, "size": 1024, "digest": "sha256:" + m})
		}
		c.JSON(http.StatusOK, gin.H{"models": list})
	})
	g.POST("/api/pull", func(c *gin.Context) {
		var req pullRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.pulls = append(f.pulls, req)
		if f.pullStatus != 0 {
			c.JSON(f.pullStatus, gin.H{"error": "pull failed"})
			return
		}
		f.models = append(f.models, req.Name)
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})
	return g
}

func startFake(t *testing.T, f *fakeServer) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", ProbeTimeout: time.Second, ListTimeout: time.Second, PullTimeout: time.Second})
}

func TestIsRunning(t *testing.T) {
	c := startFake(t, &fakeServer{})
	if !c.IsRunning(context.Background()) {
		t.Fatalf("expected running")
	}
}

func TestIsRunningFailuresAreFalse(t *testing.T) {
	c := startFake(t, &fakeServer{tagsStatus: http.StatusInternalServerError})
	if c.IsRunning(context.Background()) {
		t.Fatalf("500 must count as not running")
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	down := New(Config{BaseURL: url, ProbeTimeout: 200 * time.Millisecond})
	if down.IsRunning(context.Background()) {
		t.Fatalf("closed server must count as not running")
	}
}

func TestHasModelSubstringMatch(t *testing.T) {
	c := startFake(t, &fakeServer{models: []string{"phi4-mini:latest", "snowflake-arctic-embed2:latest"}})
	ctx := context.Background()
	cases := []struct {
		id   string
		want bool
	}{
		{"phi4-mini:latest", true},
		{"snowflake-arctic-embed2", true}, // substring of the tagged name
		{"olmo-3:7b-instruct", false},
	}
	for _, tc := range cases {
		if got := c.HasModel(ctx, tc.id); got != tc.want {
			t.Errorf("HasModel(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestHasModelRequestFailureIsFalse(t *testing.T) {
	c := startFake(t, &fakeServer{models: []string{"a"}, tagsStatus: http.StatusBadGateway})
	if c.HasModel(context.Background(), "a") {
		t.Fatalf("failed listing must yield false")
	}
}

func TestListModels(t *testing.T) {
	c := startFake(t, &fakeServer{models: []string{"a", "b"}})
	ms, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ms) != 2 || ms[0].Name != "a" || ms[1].Digest != "sha256:b" {
		t.Fatalf("unexpected models: %+v", ms)
	}
}

func TestListModelsMalformed(t *testing.T) {
	c := startFake(t, &fakeServer{rawTags: "not json"})
	if _, err := c.ListModels(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestPullSendsNonStreamingRequest(t *testing.T) {
	f := &fakeServer{}
	c := startFake(t, f)
	if err := c.Pull(context.Background(), "phi4-mini:latest"); err != nil {
		t.Fatalf("pull: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pulls) != 1 || f.pulls[0].Name != "phi4-mini:latest" || f.pulls[0].Stream {
		t.Fatalf("unexpected pull requests: %+v", f.pulls)
	}
}

func TestPullHTTPError(t *testing.T) {
	c := startFake(t, &fakeServer{pullStatus: http.StatusNotFound})
	err := c.Pull(context.Background(), "missing:model")
	var pe *PullError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PullError, got %T %v", err, err)
	}
	if pe.Model != "missing:model" || pe.Status != http.StatusNotFound {
		t.Fatalf("unexpected error fields: %+v", pe)
	}
}

func TestPullTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := New(Config{BaseURL: url, PullTimeout: 200 * time.Millisecond})
	err := c.Pull(context.Background(), "x")
	var pe *PullError
	if !errors.As(err, &pe) || pe.Status != 0 || pe.Unwrap() == nil {
		t.Fatalf("expected transport PullError, got %v", err)
	}
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{})
	if c.BaseURL() != DefaultBaseURL {
		t.Fatalf("unexpected base url %q", c.BaseURL())
	}
	if c.pullTimeout != DefaultPullTimeout || c.listTimeout != DefaultListTimeout || c.probeTimeout != DefaultProbeTimeout {
		t.Fatalf("unexpected default timeouts")
	}
}

func TestRequirementLabel(t *testing.T) {
	if (Requirement{ID: "x"}).Label() != "x" {
		t.Fatalf("label should fall back to id")
	}
	if len(DefaultRequirements) != 3 {
		t.Fatalf("expected three default requirements")
	}
}
