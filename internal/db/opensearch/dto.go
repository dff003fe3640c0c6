package opensearch

import "encoding/json"

// SearchResponse is the subset of the OpenSearch search envelope we read.
type SearchResponse struct {
	Took int `json:"took"`
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []RawHit `json:"hits"`
	} `json:"hits"`
}

// RawHit is one un-normalized search engine hit.
type RawHit struct {
	ID        string              `json:"_id"`
	Score     float64             `json:"_score"`
	Source    ChunkSource         `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
}

// ChunkSource is the stored chunk document shape.
type ChunkSource struct {
	DocKey        string    `json:"doc_key"`
	Content       string    `json:"content"`
	ContentVector []float32 `json:"content_vector,omitempty"`
	HPath         []string  `json:"h_path"`
	Source        string    `json:"source"`
	URL           string    `json:"url,omitempty"`
	Anchor        string    `json:"anchor,omitempty"`
	Version       string    `json:"version,omitempty"`
	ContentHash   string    `json:"content_hash,omitempty"`
	LastSeenAt    string    `json:"last_seen_at,omitempty"`
}

// bulkAction is one NDJSON action line for the _bulk endpoint.
type bulkAction struct {
	Index bulkIndexMeta `json:"index"`
}

type bulkIndexMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

func (a bulkAction) line() ([]byte, error) {
	return json.Marshal(a)
}
