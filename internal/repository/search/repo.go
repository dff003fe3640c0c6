package search

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/kailas-cloud/docquery/internal/db/opensearch"
	"github.com/kailas-cloud/docquery/internal/domain"
)

const snippetMaxRunes = 240

// minVectorCandidates is the floor of the over-fetch candidate pool for
// filtered k-NN; a small pool under heavy filtering starves recall.
const minVectorCandidates = 50

// gateway is the consumer interface for search calls (ISP).
type gateway interface {
	Search(ctx context.Context, body any) (*opensearch.SearchResponse, json.RawMessage, error)
}

// Repo normalizes OpenSearch results into domain rankings.
type Repo struct {
	os gateway
}

// New creates a search repository over the OpenSearch gateway.
func New(os gateway) *Repo {
	return &Repo{os: os}
}

// Lexical runs a term-relevance search over the content field.
// Returns the ranking plus the exact query body issued.
func (r *Repo) Lexical(
	ctx context.Context, query string, filters domain.Filters, topN int,
) (domain.Ranking, json.RawMessage, error) {
	boolQuery := map[string]any{
		"must": []map[string]any{
			{"match": map[string]any{"content": query}},
		},
	}
	if clauses := filterClauses(filters); len(clauses) > 0 {
		boolQuery["filter"] = clauses
	}

	body := map[string]any{
		"size":  topN,
		"query": map[string]any{"bool": boolQuery},
		"highlight": map[string]any{
			"fields": map[string]any{"content": map[string]any{}},
		},
	}

	resp, raw, err := r.os.Search(ctx, body)
	if err != nil {
		return nil, raw, fmt.Errorf("lexical search: %w", err)
	}
	return normalizeHits(resp), raw, nil
}

// Vector runs an approximate nearest-neighbor search over the stored
// embedding field. The candidate pool is over-fetched to max(2k, 50) to keep
// recall acceptable under filtering; at most k hits are returned.
func (r *Repo) Vector(
	ctx context.Context, vector []float32, k int, filters domain.Filters,
) (domain.Ranking, json.RawMessage, error) {
	if len(vector) == 0 {
		return nil, nil, fmt.Errorf("vector search: empty query vector")
	}

	candidates := 2 * k
	if candidates < minVectorCandidates {
		candidates = minVectorCandidates
	}

	boolQuery := map[string]any{
		"must": []map[string]any{
			{"knn": map[string]any{
				"content_vector": map[string]any{
					"vector": vector,
					"k":      candidates,
				},
			}},
		},
	}
	if clauses := filterClauses(filters); len(clauses) > 0 {
		boolQuery["filter"] = clauses
	}

	body := map[string]any{
		"size":  k,
		"query": map[string]any{"bool": boolQuery},
	}

	resp, raw, err := r.os.Search(ctx, body)
	if err != nil {
		return nil, raw, fmt.Errorf("vector search: %w", err)
	}

	ranking := normalizeHits(resp)
	if len(ranking) > k {
		ranking = ranking[:k]
	}
	return ranking, raw, nil
}

// normalizeHits converts raw engine hits into the domain ranking.
// Hit IDs come from doc_key (corpus-stable); _id is only a fallback.
func normalizeHits(resp *opensearch.SearchResponse) domain.Ranking {
	if resp == nil || len(resp.Hits.Hits) == 0 {
		return nil
	}

	ranking := make(domain.Ranking, 0, len(resp.Hits.Hits))
	for i, rh := range resp.Hits.Hits {
		id := rh.Source.DocKey
		if id == "" {
			id = rh.ID
		}
		ranking = append(ranking, domain.Hit{
			ID:      id,
			Score:   rh.Score,
			Rank:    i + 1,
			Content: rh.Source.Content,
			Snippet: snippetFor(rh),
			Source:  rh.Source.Source,
			Version: rh.Source.Version,
			HPath:   rh.Source.HPath,
			URL:     rh.Source.URL,
		})
	}
	return ranking
}

// snippetFor prefers the engine's highlight fragment, falling back to a
// content prefix.
func snippetFor(rh opensearch.RawHit) string {
	if frags := rh.Highlight["content"]; len(frags) > 0 && frags[0] != "" {
		return frags[0]
	}
	return truncateRunes(rh.Source.Content, snippetMaxRunes)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
