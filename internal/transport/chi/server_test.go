package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docquery/internal/domain"
	healthuc "github.com/kailas-cloud/docquery/internal/usecase/health"
	queryuc "github.com/kailas-cloud/docquery/internal/usecase/query"
)

// --- Stubs ---

type stubRetriever struct {
	hits       domain.Ranking
	lexicalErr error
}

func (s *stubRetriever) Lexical(
	_ context.Context, _ string, _ domain.Filters, _ int,
) (domain.Ranking, json.RawMessage, error) {
	return s.hits, json.RawMessage(`{}`), s.lexicalErr
}

func (s *stubRetriever) Vector(
	_ context.Context, _ []float32, _ int, _ domain.Filters,
) (domain.Ranking, json.RawMessage, error) {
	return nil, json.RawMessage(`{}`), nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1}
	}
	return out
}

type stubGenerator struct {
	answer string
}

func (s *stubGenerator) Generate(_ context.Context, _ string, _ []domain.Hit) (string, error) {
	return s.answer, nil
}

type stubPinger struct{ err error }

func (s *stubPinger) Ping(_ context.Context) error { return s.err }

type stubChecker struct{ err error }

func (s *stubChecker) HealthCheck(_ context.Context) error { return s.err }

func newTestServer(t *testing.T, retriever *stubRetriever, searchErr error) http.Handler {
	t.Helper()
	querySvc := queryuc.New(retriever, stubEmbedder{}, &stubGenerator{answer: "answer text"},
		queryuc.Options{BM25TopN: 10, VectorTopN: 10, RRFK: 60, QueryTopK: 8}, zap.NewNop())
	healthSvc := healthuc.New(&stubPinger{err: searchErr}, &stubChecker{}, nil)
	server := NewServer(querySvc, healthSvc, zap.NewNop())

	r := chirouter.NewRouter()
	r.Post("/query", server.HandleQuery)
	r.Get("/healthz", server.HandleHealth)
	return r
}

func postQuery(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestHandleQuery_OK(t *testing.T) {
	retriever := &stubRetriever{hits: domain.Ranking{
		{ID: "doc#1", Rank: 1, Snippet: "snippet one", Source: "runbook", URL: "https://docs/1"},
		{ID: "doc#2", Rank: 2, Snippet: "snippet two"},
	}}
	h := newTestServer(t, retriever, nil)

	rec := postQuery(t, h, `{"q":"how do I restart"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "answer text" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(resp.Citations))
	}
	if resp.Citations[0].ID != "doc#1" || resp.Citations[0].URL != "https://docs/1" {
		t.Errorf("citation[0] = %+v", resp.Citations[0])
	}
	if resp.Diagnostics.TotalMS < 0 {
		t.Errorf("diagnostics missing total timing: %+v", resp.Diagnostics)
	}
}

func TestHandleQuery_TopKOverride(t *testing.T) {
	retriever := &stubRetriever{hits: domain.Ranking{
		{ID: "a", Rank: 1, Snippet: "x"},
		{ID: "b", Rank: 2, Snippet: "y"},
		{ID: "c", Rank: 3, Snippet: "z"},
	}}
	h := newTestServer(t, retriever, nil)

	rec := postQuery(t, h, `{"q":"question","top_k":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp queryResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Citations) != 1 {
		t.Errorf("citations = %d, want top_k=1", len(resp.Citations))
	}
}

func TestHandleQuery_BadRequests(t *testing.T) {
	h := newTestServer(t, &stubRetriever{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing q", `{}`},
		{"blank q", `{"q":"   "}`},
		{"negative top_k", `{"q":"x","top_k":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postQuery(t, h, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp errorResponse
			_ = json.Unmarshal(rec.Body.Bytes(), &resp)
			if resp.Code != codeBadRequest {
				t.Errorf("code = %q, want %q", resp.Code, codeBadRequest)
			}
		})
	}
}

func TestHandleQuery_SearchFailure(t *testing.T) {
	retriever := &stubRetriever{lexicalErr: errors.New("cluster red")}
	h := newTestServer(t, retriever, nil)

	rec := postQuery(t, h, `{"q":"question"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != codeSearchFailure {
		t.Errorf("code = %q, want %q", resp.Code, codeSearchFailure)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := newTestServer(t, &stubRetriever{}, nil)
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		h := newTestServer(t, &stubRetriever{}, errors.New("search down"))
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}
