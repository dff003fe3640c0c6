// Package opensearch is a thin REST gateway to the OpenSearch cluster.
// It deliberately speaks plain HTTP+JSON: the ML-commons plugin endpoints
// used elsewhere have no typed client, and keeping one transport style for
// the whole cluster keeps failure handling uniform.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docquery/internal/domain"
)

// Config holds OpenSearch connection settings.
type Config struct {
	BaseURL   string
	IndexName string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Client issues index and search requests against one OpenSearch index.
type Client struct {
	baseURL string
	index   string
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates an OpenSearch gateway client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		index:   cfg.IndexName,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Ping checks cluster connectivity.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping cluster: %w", err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ping cluster: status %d", resp.StatusCode)
	}
	return nil
}

// Search executes a search request body against the index and returns the
// parsed response alongside the exact body that was issued.
func (c *Client) Search(ctx context.Context, body any) (*SearchResponse, json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/_search", c.baseURL, c.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, raw, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, raw, fmt.Errorf("execute search: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, raw, fmt.Errorf("index %s: %w", c.index, domain.ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, raw, fmt.Errorf("search: status %d: %s", resp.StatusCode, string(msg))
	}

	var sr SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, raw, fmt.Errorf("decode search response: %w", err)
	}
	return &sr, raw, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
