// Package generate holds the answer generation capability. Two
// implementations exist: an LLM-backed one (transport/openai) and the
// deterministic extractive fallback in this package. Which one runs is a
// construction-time configuration decision, never a runtime presence probe.
package generate

import (
	"context"

	"github.com/kailas-cloud/docquery/internal/domain"
)

// Generator produces an answer from a question and ordered context hits.
// Implementations must tolerate empty context and bound their own latency.
type Generator interface {
	Generate(ctx context.Context, question string, hits []domain.Hit) (string, error)
}

// NoResultsMessage is returned whenever the retrieval produced no context.
const NoResultsMessage = "No matching documents were found. Try different keywords or adjust the filters."
