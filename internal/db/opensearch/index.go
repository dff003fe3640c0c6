package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// EnsureIndex creates the chunk index with a k-NN mapping if it does not
// already exist. dims is the embedding dimensionality to map.
func (c *Client) EnsureIndex(ctx context.Context, dims int) error {
	exists, err := c.indexExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	mapping := buildChunkMapping(dims)
	raw, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal index mapping: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, c.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build create index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("create index %s: %w", c.index, err)
	}
	defer drainAndClose(resp.Body)

	// A concurrent bootstrap may have created it first.
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusConflict {
		c.logger.Debug("Index already created concurrently", zap.String("index", c.index))
		return nil
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("create index %s: status %d: %s", c.index, resp.StatusCode, string(msg))
	}

	c.logger.Info("Created chunk index", zap.String("index", c.index), zap.Int("dims", dims))
	return nil
}

func (c *Client) indexExists(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, c.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("build index check request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", c.index, err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("check index %s: status %d", c.index, resp.StatusCode)
	default:
		return true, nil
	}
}

// BulkIndex writes a batch of chunk documents through the _bulk endpoint,
// keyed by doc_key. Used by the ingestion pipeline, not the query path.
func (c *Client) BulkIndex(ctx context.Context, chunks []ChunkSource) error {
	if len(chunks) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, chunk := range chunks {
		action := bulkAction{Index: bulkIndexMeta{Index: c.index, ID: chunk.DocKey}}
		actionLine, err := action.line()
		if err != nil {
			return fmt.Errorf("marshal bulk action: %w", err)
		}
		docLine, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("marshal chunk %s: %w", chunk.DocKey, err)
		}
		buf.Write(actionLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	url := fmt.Sprintf("%s/%s/_bulk", c.baseURL, c.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("build bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("bulk index: status %d: %s", resp.StatusCode, string(msg))
	}

	var result struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if result.Errors {
		c.logger.Error("Bulk indexing reported per-document errors", zap.Int("chunks", len(chunks)))
	}
	return nil
}

// buildChunkMapping returns the index settings and mapping for chunk documents.
func buildChunkMapping(dims int) map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 0,
				"knn":                true,
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"content": map[string]any{"type": "text"},
				"content_vector": map[string]any{
					"type":      "knn_vector",
					"dimension": dims,
				},
				"h_path":       map[string]any{"type": "keyword"},
				"source":       map[string]any{"type": "keyword"},
				"url":          map[string]any{"type": "keyword"},
				"anchor":       map[string]any{"type": "keyword"},
				"version":      map[string]any{"type": "keyword"},
				"doc_key":      map[string]any{"type": "keyword"},
				"content_hash": map[string]any{"type": "keyword"},
				"last_seen_at": map[string]any{"type": "date"},
			},
		},
	}
}
