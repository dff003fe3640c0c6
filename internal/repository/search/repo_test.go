package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kailas-cloud/docquery/internal/db/opensearch"
	"github.com/kailas-cloud/docquery/internal/domain"
)

// --- Mocks ---

type mockGateway struct {
	resp     *opensearch.SearchResponse
	err      error
	lastBody map[string]any
}

func (m *mockGateway) Search(
	_ context.Context, body any,
) (*opensearch.SearchResponse, json.RawMessage, error) {
	raw, merr := json.Marshal(body)
	if merr != nil {
		return nil, nil, merr
	}
	m.lastBody = map[string]any{}
	_ = json.Unmarshal(raw, &m.lastBody)
	return m.resp, raw, m.err
}

func responseWithHits(hits ...opensearch.RawHit) *opensearch.SearchResponse {
	resp := &opensearch.SearchResponse{}
	resp.Hits.Hits = hits
	return resp
}

func chunkHit(docKey, content string, score float64) opensearch.RawHit {
	return opensearch.RawHit{
		ID:    "os-" + docKey,
		Score: score,
		Source: opensearch.ChunkSource{
			DocKey:  docKey,
			Content: content,
			Source:  "runbook",
			Version: "v1",
		},
	}
}

// --- Tests ---

func TestLexical_QueryShape(t *testing.T) {
	gw := &mockGateway{resp: responseWithHits()}
	repo := New(gw)

	_, raw, err := repo.Lexical(context.Background(), "restart procedure", nil, 200)
	if err != nil {
		t.Fatalf("Lexical: %v", err)
	}

	if gw.lastBody["size"] != float64(200) {
		t.Errorf("size = %v, want 200", gw.lastBody["size"])
	}
	body := string(raw)
	if !strings.Contains(body, `"match":{"content":"restart procedure"}`) {
		t.Errorf("body missing match clause: %s", body)
	}
	if !strings.Contains(body, `"highlight"`) {
		t.Errorf("body missing highlight request: %s", body)
	}
}

func TestLexical_FiltersTranslate(t *testing.T) {
	gw := &mockGateway{resp: responseWithHits()}
	repo := New(gw)

	filters := domain.Filters{
		"source":  {"runbook", "api"},
		"version": {"v2"},
	}
	_, raw, err := repo.Lexical(context.Background(), "q", filters, 10)
	if err != nil {
		t.Fatalf("Lexical: %v", err)
	}

	body := string(raw)
	if !strings.Contains(body, `"terms":{"source":["runbook","api"]}`) {
		t.Errorf("multi-value filter not a terms clause: %s", body)
	}
	if !strings.Contains(body, `"term":{"version":"v2"}`) {
		t.Errorf("single-value filter not a term clause: %s", body)
	}
	// Deterministic field order: source before version.
	if strings.Index(body, `"source"`) > strings.Index(body, `"version"`) {
		t.Errorf("filter fields not in sorted order: %s", body)
	}
}

func TestVector_QueryShape(t *testing.T) {
	gw := &mockGateway{resp: responseWithHits()}
	repo := New(gw)

	vec := []float32{0.1, 0.2}
	_, raw, err := repo.Vector(context.Background(), vec, 100, nil)
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}

	if gw.lastBody["size"] != float64(100) {
		t.Errorf("size = %v, want k", gw.lastBody["size"])
	}
	// Over-fetch pool: 2k with a floor of 50.
	if !strings.Contains(string(raw), `"k":200`) {
		t.Errorf("candidate pool missing 2k over-fetch: %s", raw)
	}
	if !strings.Contains(string(raw), `"content_vector"`) {
		t.Errorf("knn clause missing vector field: %s", raw)
	}
}

func TestVector_CandidateFloor(t *testing.T) {
	gw := &mockGateway{resp: responseWithHits()}
	repo := New(gw)

	_, raw, err := repo.Vector(context.Background(), []float32{0.1}, 5, nil)
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if !strings.Contains(string(raw), `"k":50`) {
		t.Errorf("small k must still use the 50-candidate floor: %s", raw)
	}
}

func TestVector_EmptyVectorRejected(t *testing.T) {
	repo := New(&mockGateway{})
	if _, _, err := repo.Vector(context.Background(), nil, 10, nil); err == nil {
		t.Fatal("expected error for an empty query vector")
	}
}

func TestVector_TruncatesToK(t *testing.T) {
	gw := &mockGateway{resp: responseWithHits(
		chunkHit("a", "one", 3),
		chunkHit("b", "two", 2),
		chunkHit("c", "three", 1),
	)}
	repo := New(gw)

	ranking, _, err := repo.Vector(context.Background(), []float32{0.1}, 2, nil)
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if len(ranking) != 2 {
		t.Errorf("ranking len = %d, want k=2", len(ranking))
	}
}

func TestNormalizeHits(t *testing.T) {
	hit := chunkHit("guide#install", "Install with the package manager. Then restart.", 1.5)
	hit.Highlight = map[string][]string{"content": {"<em>Install</em> with the package manager"}}
	noKey := opensearch.RawHit{ID: "raw-id", Score: 0.5,
		Source: opensearch.ChunkSource{Content: "orphan chunk"}}

	ranking := normalizeHits(responseWithHits(hit, noKey))
	if len(ranking) != 2 {
		t.Fatalf("len = %d, want 2", len(ranking))
	}

	first := ranking[0]
	if first.ID != "guide#install" {
		t.Errorf("id = %q, want doc_key", first.ID)
	}
	if first.Rank != 1 || ranking[1].Rank != 2 {
		t.Errorf("ranks = %d,%d, want 1,2", first.Rank, ranking[1].Rank)
	}
	if !strings.Contains(first.Snippet, "<em>Install</em>") {
		t.Errorf("snippet = %q, want the highlight fragment", first.Snippet)
	}
	if ranking[1].ID != "raw-id" {
		t.Errorf("fallback id = %q, want engine _id", ranking[1].ID)
	}
	if ranking[1].Snippet != "orphan chunk" {
		t.Errorf("fallback snippet = %q, want content prefix", ranking[1].Snippet)
	}
}

func TestSnippetFor_TruncatesLongContent(t *testing.T) {
	long := strings.Repeat("ж", 400)
	hit := opensearch.RawHit{Source: opensearch.ChunkSource{Content: long}}

	snippet := snippetFor(hit)
	if !strings.HasSuffix(snippet, "…") {
		t.Errorf("long snippet should end with ellipsis: %q", snippet)
	}
	// 240 runes plus the ellipsis, counted in runes not bytes.
	if got := len([]rune(snippet)); got != snippetMaxRunes+1 {
		t.Errorf("snippet runes = %d, want %d", got, snippetMaxRunes+1)
	}
}

func TestLexical_ErrorPropagates(t *testing.T) {
	gw := &mockGateway{err: errors.New("cluster red")}
	repo := New(gw)

	_, _, err := repo.Lexical(context.Background(), "q", nil, 10)
	if err == nil || !strings.Contains(err.Error(), "lexical search") {
		t.Errorf("err = %v, want wrapped lexical search error", err)
	}
}
