package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL      = "http://localhost:11434"
	DefaultProbeTimeout = 2 * time.Second
	DefaultListTimeout  = 5 * time.Second
	DefaultPullTimeout  = 600 * time.Second
)

// Client talks to the local Ollama HTTP API.
type Client struct {
	baseURL      string
	probeTimeout time.Duration
	listTimeout  time.Duration
	pullTimeout  time.Duration
	client       *http.Client
	logger       *slog.Logger
}

// Config holds client configuration. Zero values fall back to the defaults.
type Config struct {
	BaseURL      string
	ProbeTimeout time.Duration
	ListTimeout  time.Duration
	PullTimeout  time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Model is one entry of the /api/tags listing.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	ModifiedAt time.Time `json:"modified_at"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// PullError reports a failed model download.
type PullError struct {
	Model  string
	Status int // HTTP status when the server replied, 0 on transport failure
	Err    error
}

func (e *PullError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to pull model %s: HTTP %d %s", e.Model, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("failed to pull model %s: %v", e.Model, e.Err)
}

func (e *PullError) Unwrap() error { return e.Err }

// New creates a client. Timeouts are applied per request through contexts.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = DefaultPullTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		probeTimeout: cfg.ProbeTimeout,
		listTimeout:  cfg.ListTimeout,
		pullTimeout:  cfg.PullTimeout,
		client:       cfg.HTTPClient,
		logger:       cfg.Logger,
	}
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// IsRunning reports whether the listing endpoint answers with a success status.
// Every failure means "not running"; nothing is surfaced as an error.
func (c *Client) IsRunning(ctx context.Context) bool {
	_, err := c.tags(ctx, c.probeTimeout)
	if err != nil {
		c.logger.Debug("Ollama unreachable", "url", c.baseURL, "error", err)
		return false
	}
	return true
}

// HasModel reports whether id appears anywhere in the raw listing.
// Request failures yield false.
func (c *Client) HasModel(ctx context.Context, id string) bool {
	body, err := c.tags(ctx, c.listTimeout)
	if err != nil {
		c.logger.Debug("Model listing failed", "model", id, "error", err)
		return false
	}
	return strings.Contains(string(body), id)
}

// ListModels returns the decoded model listing.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	body, err := c.tags(ctx, c.listTimeout)
	if err != nil {
		return nil, err
	}
	var tr tagsResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode model listing: %w", err)
	}
	return tr.Models, nil
}

// Pull asks the server to download id and blocks until it finishes.
// No progress is streamed; the call may take minutes.
func (c *Client) Pull(ctx context.Context, id string) error {
	c.logger.Info("Pulling Ollama model", "model", id)
	data, err := json.Marshal(pullRequest{Name: id, Stream: false})
	if err != nil {
		return &PullError{Model: id, Err: fmt.Errorf("marshal request: %w", err)}
	}
	ctx, cancel := context.WithTimeout(ctx, c.pullTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(data))
	if err != nil {
		return &PullError{Model: id, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return &PullError{Model: id, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &PullError{Model: id, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	c.logger.Info("Successfully pulled model", "model", id)
	return nil
}

func (c *Client) tags(ctx context.Context, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("listing returned HTTP %d", resp.StatusCode)
	}
	return body, nil
}
