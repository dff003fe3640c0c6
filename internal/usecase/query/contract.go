package query

import (
	"context"
	"encoding/json"

	"github.com/kailas-cloud/docquery/internal/domain"
)

// Retriever issues ranked retrievals against the search engine. Both methods
// return the exact request body issued, for diagnostics.
type Retriever interface {
	Lexical(
		ctx context.Context, query string, filters domain.Filters, topN int,
	) (domain.Ranking, json.RawMessage, error)

	Vector(
		ctx context.Context, vector []float32, k int, filters domain.Filters,
	) (domain.Ranking, json.RawMessage, error)
}
