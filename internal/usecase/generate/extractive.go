package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/docquery/internal/domain"
)

// Extractive is the deterministic fallback generator: it summarizes the top
// hits by their leading sentences instead of calling a language model. It is
// both the configured generator when no LLM credentials exist and the
// degradation path when the LLM call fails.
type Extractive struct{}

// NewExtractive creates the fallback generator.
func NewExtractive() *Extractive {
	return &Extractive{}
}

// Generate never fails; it always produces some textual summary.
func (e *Extractive) Generate(_ context.Context, _ string, hits []domain.Hit) (string, error) {
	return Summarize(hits), nil
}

// Summarize builds the extractive summary used by both the fallback
// generator and the degraded path after an LLM failure.
func Summarize(hits []domain.Hit) string {
	var lines []string
	for i, hit := range hits {
		snippet := strings.TrimSpace(hit.Snippet)
		if snippet == "" {
			snippet = strings.TrimSpace(hit.Content)
		}
		if snippet == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[Source %d] %s…", i+1, firstSentence(snippet)))
	}
	if len(lines) == 0 {
		return NoResultsMessage
	}
	return strings.Join(lines, "\n")
}

func firstSentence(s string) string {
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.Index(s, sep); idx > 0 {
			return strings.TrimSpace(s[:idx+1])
		}
	}
	return s
}
