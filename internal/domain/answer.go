package domain

import "encoding/json"

// Diagnostics carries per-stage timings and degradation markers for one query.
// Degraded paths are recorded here, never silently swallowed.
type Diagnostics struct {
	EmbeddingMS int64 `json:"embedding_ms"`
	RetrievalMS int64 `json:"retrieval_ms"`
	VectorMS    int64 `json:"vector_ms"`
	FusionMS    int64 `json:"fusion_ms"`
	TotalMS     int64 `json:"total_ms"`

	// Exact request bodies issued to the search engine.
	LexicalQueryBody json.RawMessage `json:"lexical_query_body,omitempty"`
	VectorQueryBody  json.RawMessage `json:"vector_query_body,omitempty"`

	VectorError        string `json:"vector_error,omitempty"`
	EmbeddingDegraded  bool   `json:"embedding_degraded,omitempty"`
	GenerationDegraded bool   `json:"generation_degraded,omitempty"`
}

// Answer is the result of one end-to-end query.
type Answer struct {
	Text        string
	Citations   []Hit
	Diagnostics Diagnostics
}
