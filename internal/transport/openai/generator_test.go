package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docquery/internal/domain"
	"github.com/kailas-cloud/docquery/internal/usecase/generate"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *Generator {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewGenerator(Config{
		APIKey:  "test-key",
		BaseURL: ts.URL + "/v1",
		Model:   "gpt-4o-mini",
		Logger:  zap.NewNop(),
	})
}

func completionResponse(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func someHits() []domain.Hit {
	return []domain.Hit{
		{ID: "guide#install", Snippet: "Run the installer."},
		{ID: "guide#verify", Content: "Check the service status."},
	}
}

func TestGenerate_Success(t *testing.T) {
	var gotReq map[string]any
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionResponse("  Install it, then verify. [Source 1]  "))
	})

	answer, err := g.Generate(context.Background(), "how do I install", someHits())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != "Install it, then verify. [Source 1]" {
		t.Errorf("answer = %q, want trimmed completion", answer)
	}

	messages, _ := gotReq["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want system+user", len(messages))
	}
	user, _ := messages[1].(map[string]any)
	content, _ := user["content"].(string)
	if !strings.Contains(content, "[Source 1 | guide#install]") {
		t.Errorf("prompt missing numbered source block:\n%s", content)
	}
	if !strings.Contains(content, "Check the service status.") {
		t.Errorf("prompt missing content fallback snippet:\n%s", content)
	}
}

func TestGenerate_NoHitsShortCircuits(t *testing.T) {
	called := false
	g := newTestGenerator(t, func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	answer, err := g.Generate(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != generate.NoResultsMessage {
		t.Errorf("answer = %q, want the no-results message", answer)
	}
	if called {
		t.Error("no hits must not reach the API")
	}
}

func TestGenerate_APIErrorWrapsSentinel(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	})

	_, err := g.Generate(context.Background(), "q", someHits())
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Errorf("error = %v, want ErrGenerationFailed", err)
	}
}

func TestGenerate_EmptyCompletionIsFailure(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionResponse("   "))
	})

	_, err := g.Generate(context.Background(), "q", someHits())
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Errorf("error = %v, want ErrGenerationFailed", err)
	}
}

func TestBuildPrompt_SkipsEmptyHits(t *testing.T) {
	prompt := buildPrompt("q", []domain.Hit{
		{ID: "empty"},
		{ID: "full", Snippet: "Useful text."},
	})
	if strings.Contains(prompt, "[Source 1 | empty]") {
		t.Errorf("prompt should skip hits without text:\n%s", prompt)
	}
	if !strings.Contains(prompt, "[Source 2 | full]") {
		t.Errorf("prompt should keep positional numbering:\n%s", prompt)
	}
}
