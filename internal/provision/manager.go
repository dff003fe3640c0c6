// Package provision wires the search engine's ML inference plane to the
// external embedding backend: it creates an HTTP connector, registers and
// deploys a remote model over it, and runs batch inference through the
// engine. Everything is idempotent; "already exists" answers from the engine
// count as success because provisioning may race across processes.
package provision

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

	"github.com/kailas-cloud/docquery/internal/domain"
)

const defaultPollInterval = 2 * time.Second

// Config holds provisioning manager settings.
type Config struct {
	BaseURL        string // OpenSearch cluster URL
	OllamaURL      string // embedding backend the connector relays to
	Model          string // embedding model name
	RequestTimeout time.Duration
	WaitTimeout    time.Duration // wall-clock deadline for task polling
	Logger         *zap.Logger
}

// Manager drives the remote-model lifecycle and caches the resulting ids for
// the process lifetime. The cache is advisory: losing it only costs extra
// idempotent lookups.
type Manager struct {
	baseURL        string
	ollamaURL      string
	model          string
	connectorName  string
	modelName      string
	http           *http.Client
	requestTimeout time.Duration
	waitTimeout    time.Duration
	pollInterval   time.Duration
	sleep          func(time.Duration)
	now            func() time.Time
	logger         *zap.Logger

	mu     sync.Mutex
	cached domain.ProvisionedModel
}

// NewManager creates a provisioning manager with an empty cache.
func NewManager(cfg Config) (*Manager, error) {
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
	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		ollamaURL:      strings.TrimRight(cfg.OllamaURL, "/"),
		model:          cfg.Model,
		connectorName:  fmt.Sprintf("ollama-%s-connector", cfg.Model),
		modelName:      fmt.Sprintf("ollama-%s-remote", cfg.Model),
		http:           &http.Client{},
		requestTimeout: requestTimeout,
		waitTimeout:    waitTimeout,
		pollInterval:   defaultPollInterval,
		sleep:          time.Sleep,
		now:            time.Now,
		logger:         logger,
		cached:         domain.ProvisionedModel{DeployState: domain.DeployUnknown},
	}, nil
}

// EnsureRemoteModel returns a deployed remote model id, creating and
// deploying the underlying resources as needed. Idempotent; concurrent
// callers serialize on the cache.
func (m *Manager) EnsureRemoteModel(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached.ModelID != "" && m.cached.DeployState == domain.DeployDeployed {
		return m.cached.ModelID, nil
	}

	connectorID, err := m.ensureConnector(ctx)
	if err != nil {
		return "", err
	}
	m.cached.ConnectorID = connectorID

	modelID, state, err := m.findModel(ctx)
	if err != nil {
		return "", domain.NewProvisioningError("model_search", err)
	}
	if modelID == "" {
		modelID, err = m.registerModel(ctx, connectorID)
		if err != nil {
			return "", err
		}
		state = domain.DeployUnknown
	}
	if state != domain.DeployDeployed {
		m.cached.DeployState = domain.DeployDeploying
		if err := m.deployModel(ctx, modelID); err != nil {
			m.cached.DeployState = domain.DeployFailed
			return "", err
		}
	}

	m.cached.ModelID = modelID
	m.cached.DeployState = domain.DeployDeployed
	return modelID, nil
}

// InferEmbeddings runs batch embedding inference through the engine's
// inference plane. A 404 on the inference endpoint means the capability is
// absent; callers fall back without retrying.
func (m *Manager) InferEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	modelID, err := m.EnsureRemoteModel(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"model_id":  modelID,
		"task_type": "text_embedding",
		"text_docs": texts,
	}
	status, data, err := m.postJSON(ctx, "/_plugins/_ml/_infer", body, m.inferTimeout())
	if err != nil {
		return nil, domain.NewProvisioningError("infer", err)
	}
	if status == http.StatusNotFound {
		return nil, domain.NewProvisioningError("infer", domain.ErrCapabilityUnavailable)
	}
	if status >= 400 {
		return nil, domain.NewProvisioningError("infer",
			fmt.Errorf("inference status %d: %s", status, truncate(data, 512)))
	}

	vectors, err := parseInferenceEnvelope(data)
	if err != nil {
		return nil, domain.NewProvisioningError("infer_parse", err)
	}
	return vectors, nil
}

// Reset clears the cached identifiers. Test hook and recovery escape hatch.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = domain.ProvisionedModel{DeployState: domain.DeployUnknown}
}

func (m *Manager) ensureConnector(ctx context.Context) (string, error) {
	if m.cached.ConnectorID != "" {
		return m.cached.ConnectorID, nil
	}

	if id, err := m.findConnector(ctx); err == nil && id != "" {
		return id, nil
	}

	body := m.connectorPayload()
	status, data, err := m.postJSON(ctx, "/_plugins/_ml/connectors/_create", body, m.inferTimeout())
	if err != nil {
		return "", domain.NewProvisioningError("connector_create", err)
	}
	if status == http.StatusConflict {
		// Lost a creation race; the winner's connector serves us just as well.
		id, ferr := m.findConnector(ctx)
		if ferr != nil || id == "" {
			return "", domain.NewProvisioningError("connector_create",
				fmt.Errorf("conflict on create but connector %q not found", m.connectorName))
		}
		return id, nil
	}
	if status >= 400 {
		return "", domain.NewProvisioningError("connector_create",
			fmt.Errorf("status %d: %s", status, truncate(data, 512)))
	}

	var resp struct {
		ConnectorID string `json:"connector_id"`
	}
	if uerr := json.Unmarshal(data, &resp); uerr != nil || resp.ConnectorID == "" {
		return "", domain.NewProvisioningError("connector_create",
			fmt.Errorf("unexpected create payload: %s", truncate(data, 512)))
	}
	return resp.ConnectorID, nil
}

func (m *Manager) findConnector(ctx context.Context) (string, error) {
	body := map[string]any{
		"query": map[string]any{"match": map[string]any{"name": m.connectorName}},
		"size":  1,
	}
	status, data, err := m.postJSON(ctx, "/_plugins/_ml/connectors/_search", body, m.requestTimeout)
	if err != nil || status >= 400 {
		return "", nil // best-effort lookup; absence and failure look the same here
	}
	return firstHitID(data, "connector_id"), nil
}

func (m *Manager) findModel(ctx context.Context) (string, domain.DeployState, error) {
	body := map[string]any{
		"query": map[string]any{"term": map[string]any{"name.keyword": m.modelName}},
		"size":  1,
	}
	status, data, err := m.postJSON(ctx, "/_plugins/_ml/models/_search", body, m.requestTimeout)
	if err != nil || status >= 400 {
		return "", domain.DeployUnknown, nil
	}

	var resp struct {
		Hits struct {
			Hits []struct {
				ID     string `json:"_id"`
				Source struct {
					ModelID    string `json:"model_id"`
					ModelState string `json:"model_state"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if uerr := json.Unmarshal(data, &resp); uerr != nil || len(resp.Hits.Hits) == 0 {
		return "", domain.DeployUnknown, nil
	}

	hit := resp.Hits.Hits[0]
	id := hit.Source.ModelID
	if id == "" {
		id = hit.ID
	}
	state := domain.DeployUnknown
	if strings.EqualFold(hit.Source.ModelState, "deployed") {
		state = domain.DeployDeployed
	}
	return id, state, nil
}

func (m *Manager) registerModel(ctx context.Context, connectorID string) (string, error) {
	body := map[string]any{
		"name":          m.modelName,
		"description":   fmt.Sprintf("Ollama remote embedding model (%s)", m.model),
		"function_name": "remote",
		"connector_id":  connectorID,
	}
	status, data, err := m.postJSON(ctx, "/_plugins/_ml/models/_register", body, m.inferTimeout())
	if err != nil {
		return "", domain.NewProvisioningError("model_register", err)
	}
	if status >= 400 {
		return "", domain.NewProvisioningError("model_register",
			fmt.Errorf("status %d: %s", status, truncate(data, 512)))
	}

	var resp struct {
		TaskID string `json:"task_id"`
	}
	if uerr := json.Unmarshal(data, &resp); uerr != nil || resp.TaskID == "" {
		return "", domain.NewProvisioningError("model_register",
			fmt.Errorf("unexpected register payload: %s", truncate(data, 512)))
	}

	modelID, err := m.waitForTask(ctx, resp.TaskID, m.waitTimeout)
	if err != nil {
		return "", err
	}
	return modelID, nil
}

func (m *Manager) deployModel(ctx context.Context, modelID string) error {
	path := fmt.Sprintf("/_plugins/_ml/models/%s/_deploy", modelID)
	status, data, err := m.postJSON(ctx, path, nil, m.inferTimeout())
	if err != nil {
		return domain.NewProvisioningError("model_deploy", err)
	}
	// Already deployed elsewhere; conflict is success.
	if status == http.StatusConflict {
		return nil
	}
	if status >= 400 {
		return domain.NewProvisioningError("model_deploy",
			fmt.Errorf("status %d: %s", status, truncate(data, 512)))
	}

	var resp struct {
		TaskID string `json:"task_id"`
	}
	if uerr := json.Unmarshal(data, &resp); uerr == nil && resp.TaskID != "" {
		if _, werr := m.waitForTask(ctx, resp.TaskID, m.waitTimeout); werr != nil {
			return werr
		}
	}
	return nil
}

// waitForTask polls the task status endpoint on a fixed interval until the
// task reaches a terminal state or the wall-clock deadline elapses. The
// deadline is independent of the per-request timeout. Cancellation is only
// observed between polls: an abandoned query does not abort a deploy whose
// result benefits future queries.
func (m *Manager) waitForTask(ctx context.Context, taskID string, timeout time.Duration) (string, error) {
	deadline := m.now().Add(timeout)
	var modelID string

	for m.now().Before(deadline) {
		status, data, err := m.getJSON(ctx, "/_plugins/_ml/tasks/"+taskID, m.requestTimeout)
		if err != nil || status >= 400 {
			m.logger.Debug("Task poll failed, retrying",
				zap.String("task_id", taskID), zap.Int("status", status), zap.Error(err))
			m.sleep(m.pollInterval)
			continue
		}

		var task struct {
			State   string `json:"state"`
			Status  string `json:"status"`
			ModelID string `json:"model_id"`
		}
		if uerr := json.Unmarshal(data, &task); uerr != nil {
			m.sleep(m.pollInterval)
			continue
		}
		if task.ModelID != "" {
			modelID = task.ModelID
		}

		state := strings.ToLower(task.State)
		if state == "" {
			state = strings.ToLower(task.Status)
		}
		switch state {
		case "completed", "success", "finished":
			if modelID == "" {
				return "", domain.NewProvisioningError("task_wait",
					fmt.Errorf("task %s completed without a model id", taskID))
			}
			return modelID, nil
		case "failed", "error":
			return "", domain.NewProvisioningError("task_wait",
				fmt.Errorf("task %s failed: %s", taskID, truncate(data, 512)))
		}

		m.sleep(m.pollInterval)
	}

	return "", domain.NewProvisioningError("task_wait",
		fmt.Errorf("task %s: %w", taskID, domain.ErrProvisioningTimeout))
}

// connectorPayload describes the HTTP connector that relays embedding
// requests to the Ollama backend.
func (m *Manager) connectorPayload() map[string]any {
	endpoint := m.ollamaURL + "/api/embeddings"
	return map[string]any{
		"name":        m.connectorName,
		"description": "HTTP connector that relays embedding requests to Ollama",
		"version":     1,
		"protocol":    "http",
		"parameters":  map[string]any{"model": m.model},
		"credential":  map[string]any{"type": "noauth"},
		"actions": []map[string]any{
			{
				"action_type":  "predict",
				"method":       "POST",
				"url":          endpoint,
				"headers":      map[string]any{"Content-Type": "application/json"},
				"request_body": fmt.Sprintf(`{"model":"%s","prompt":"${parameters.prompt}"}`, m.model),
			},
		},
	}
}

// inferTimeout extends the request timeout for heavy calls (create, register,
// deploy, infer) the way the per-query timeout would be too tight for.
func (m *Manager) inferTimeout() time.Duration {
	if m.requestTimeout > 30*time.Second {
		return m.requestTimeout
	}
	return 30 * time.Second
}

func (m *Manager) postJSON(
	ctx context.Context, path string, body any, timeout time.Duration,
) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}
	return m.doJSON(ctx, http.MethodPost, path, reader, timeout)
}

func (m *Manager) getJSON(
	ctx context.Context, path string, timeout time.Duration,
) (int, []byte, error) {
	return m.doJSON(ctx, http.MethodGet, path, nil, timeout)
}

func (m *Manager) doJSON(
	ctx context.Context, method, path string, body io.Reader, timeout time.Duration,
) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return resp.StatusCode, data, nil
}

// firstHitID digs the first hit out of an ML search response and returns its
// idField from _source, falling back to _id.
func firstHitID(data []byte, idField string) string {
	var resp struct {
		Hits struct {
			Hits []struct {
				ID     string                     `json:"_id"`
				Source map[string]json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || len(resp.Hits.Hits) == 0 {
		return ""
	}
	hit := resp.Hits.Hits[0]
	if raw, ok := hit.Source[idField]; ok {
		var id string
		if json.Unmarshal(raw, &id) == nil && id != "" {
			return id
		}
	}
	return hit.ID
}

func truncate(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit]) + "..."
}
