// Package ollama is the direct embedding client: it talks straight to the
// Ollama HTTP API and is the fallback tier when the search engine's inference
// plane cannot serve embeddings.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docquery/internal/metrics"
)

// candidateEndpoints are the paths the embeddings capability has been exposed
// under across Ollama versions. The first one that answers becomes sticky.
var candidateEndpoints = []string{"/api/embeddings", "/api/embed"}

// Config holds the direct embedding client settings.
type Config struct {
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	PullTimeout    time.Duration
	Logger         *zap.Logger
}

// Client embeds text against one of several candidate Ollama endpoints.
// It never returns an error from EmbedBatch: a text whose embedding is
// unavailable yields an empty vector.
type Client struct {
	baseURL        string
	model          string
	http           *http.Client
	requestTimeout time.Duration
	pullTimeout    time.Duration
	logger         *zap.Logger

	mu             sync.Mutex
	stickyEndpoint string
	modelChecked   bool
}

// NewClient creates a direct embedding client with empty caches.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	pullTimeout := cfg.PullTimeout
	if pullTimeout <= 0 {
		pullTimeout = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		model:          cfg.Model,
		http:           &http.Client{},
		requestTimeout: requestTimeout,
		pullTimeout:    pullTimeout,
		logger:         logger,
	}, nil
}

// EmbedBatch returns one vector per text, in order. Unrecoverable per-text
// failures yield an empty vector for that text.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = c.embedOne(ctx, text)
	}
	return vectors
}

// HealthCheck verifies the backend answers the model listing endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	status, _, err := c.getJSON(ctx, "/api/tags", c.requestTimeout)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("list models: status %d", status)
	}
	return nil
}

// ProbeDims embeds a short probe text and reports the vector dimensionality.
// Returns 0 when the backend is unreachable; callers fall back to configured
// default dims.
func (c *Client) ProbeDims(ctx context.Context) int {
	vecs := c.EmbedBatch(ctx, []string{"ping"})
	if len(vecs) == 1 {
		return len(vecs[0])
	}
	return 0
}

func (c *Client) embedOne(ctx context.Context, text string) []float32 {
	c.ensureModel(ctx, false)

	start := time.Now()
	vec := c.embedAcrossEndpoints(ctx, text)
	duration := time.Since(start)

	status := "success"
	if len(vec) == 0 {
		status = "error"
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues("direct", c.model, status).Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues("direct", c.model).Observe(duration.Seconds())
	return vec
}

func (c *Client) embedAcrossEndpoints(ctx context.Context, text string) []float32 {
	for _, endpoint := range c.endpointsToTry() {
		vec, verdict := c.tryEndpoint(ctx, endpoint, text)
		switch verdict {
		case verdictOK:
			c.setSticky(endpoint)
			return vec
		case verdictTerminal:
			// Parsed the response but the vector is unusable; no other
			// endpoint will do better for this text.
			c.setSticky(endpoint)
			return nil
		case verdictEndpointGone:
			c.clearStickyIf(endpoint)
		case verdictModelMissing:
			// Force a presence refresh and retry this endpoint exactly once.
			c.ensureModel(ctx, true)
			retryVec, retryVerdict := c.tryEndpoint(ctx, endpoint, text)
			if retryVerdict == verdictOK {
				c.setSticky(endpoint)
				return retryVec
			}
			return nil
		case verdictTransient:
			// Try the next candidate.
		}
	}
	return nil
}

type verdict int

const (
	verdictOK verdict = iota
	verdictTerminal
	verdictEndpointGone
	verdictModelMissing
	verdictTransient
)

func (c *Client) tryEndpoint(ctx context.Context, endpoint, text string) ([]float32, verdict) {
	body := map[string]any{"model": c.model, "prompt": text}
	status, data, err := c.postJSON(ctx, endpoint, body, c.requestTimeout)
	if err != nil {
		c.logger.Warn("Embedding request failed",
			zap.String("endpoint", endpoint), zap.Error(err))
		return nil, verdictTransient
	}

	switch {
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		return nil, verdictEndpointGone
	case status >= 400 && status < 500 && indicatesMissingModel(data):
		return nil, verdictModelMissing
	case status >= 400:
		c.logger.Warn("Embedding request rejected",
			zap.String("endpoint", endpoint), zap.Int("status", status))
		return nil, verdictTransient
	}

	vec, ok := parseEmbeddingResponse(data)
	if !ok {
		c.logger.Warn("Unexpected embedding payload shape",
			zap.String("endpoint", endpoint), zap.ByteString("payload", limitBytes(data, 256)))
		return nil, verdictTerminal
	}
	return vec, verdictOK
}

// ensureModel checks whether the target model is loaded and lazily pulls it
// if not. Acquisition failure is non-fatal: the embedding call itself will
// surface the problem.
func (c *Client) ensureModel(ctx context.Context, force bool) {
	c.mu.Lock()
	if c.modelChecked && !force {
		c.mu.Unlock()
		return
	}
	c.modelChecked = true
	c.mu.Unlock()

	if c.modelPresent(ctx) {
		return
	}

	c.logger.Info("Pulling embedding model", zap.String("model", c.model))
	if err := c.pullModel(ctx); err != nil {
		c.logger.Warn("Model pull failed, proceeding anyway",
			zap.String("model", c.model), zap.Error(err))
	}
}

func (c *Client) modelPresent(ctx context.Context) bool {
	status, data, err := c.getJSON(ctx, "/api/tags", c.requestTimeout)
	if err != nil || status >= 400 {
		return false
	}
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if json.Unmarshal(data, &resp) != nil {
		return false
	}
	for _, m := range resp.Models {
		if m.Name == c.model || strings.TrimSuffix(m.Name, ":latest") == c.model {
			return true
		}
	}
	return false
}

// pullModel issues a blocking pull. The stream is drained and discarded; we
// only care that the pull finishes.
func (c *Client) pullModel(ctx context.Context) error {
	status, _, err := c.postJSON(ctx, "/api/pull", map[string]any{"name": c.model}, c.pullTimeout)
	if err != nil {
		return fmt.Errorf("pull model %s: %w", c.model, err)
	}
	if status >= 400 {
		return fmt.Errorf("pull model %s: status %d", c.model, status)
	}
	return nil
}

func (c *Client) endpointsToTry() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stickyEndpoint != "" {
		return []string{c.stickyEndpoint}
	}
	return candidateEndpoints
}

func (c *Client) setSticky(endpoint string) {
	c.mu.Lock()
	c.stickyEndpoint = endpoint
	c.mu.Unlock()
}

func (c *Client) clearStickyIf(endpoint string) {
	c.mu.Lock()
	if c.stickyEndpoint == endpoint {
		c.stickyEndpoint = ""
	}
	c.mu.Unlock()
}

// parseEmbeddingResponse accepts the two shapes the backend has used: a
// top-level "embedding" field, or a "data" list whose first element carries
// one.
func parseEmbeddingResponse(data []byte) ([]float32, bool) {
	var direct struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &direct); err == nil && direct.Embedding != nil {
		return direct.Embedding, true
	}

	var wrapped struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil &&
		len(wrapped.Data) > 0 && wrapped.Data[0].Embedding != nil {
		return wrapped.Data[0].Embedding, true
	}

	return nil, false
}

// indicatesMissingModel reports whether a client-error body names a missing
// model, which warrants a presence refresh and a single retry.
func indicatesMissingModel(data []byte) bool {
	body := strings.ToLower(string(limitBytes(data, 1024)))
	return strings.Contains(body, "model") &&
		(strings.Contains(body, "not found") || strings.Contains(body, "not exist"))
}

func limitBytes(data []byte, limit int) []byte {
	if len(data) <= limit {
		return data
	}
	return data[:limit]
}

func (c *Client) postJSON(
	ctx context.Context, path string, body any, timeout time.Duration,
) (int, []byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal %s body: %w", path, err)
	}
	return c.doJSON(ctx, http.MethodPost, path, bytes.NewReader(raw), timeout)
}

func (c *Client) getJSON(
	ctx context.Context, path string, timeout time.Duration,
) (int, []byte, error) {
	return c.doJSON(ctx, http.MethodGet, path, nil, timeout)
}

func (c *Client) doJSON(
	ctx context.Context, method, path string, body io.Reader, timeout time.Duration,
) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return resp.StatusCode, data, nil
}
