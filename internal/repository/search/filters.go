package search

import (
	"sort"

	"github.com/kailas-cloud/docquery/internal/domain"
)

// filterClauses translates domain filters to OpenSearch bool filter clauses:
// single value becomes term, several become terms, fields combine with AND.
// Fields are emitted in deterministic order so query bodies are stable.
func filterClauses(f domain.Filters) []map[string]any {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]map[string]any, 0, len(keys))
	for _, field := range keys {
		values := f[field]
		switch len(values) {
		case 0:
			continue
		case 1:
			clauses = append(clauses, map[string]any{"term": map[string]any{field: values[0]}})
		default:
			clauses = append(clauses, map[string]any{"terms": map[string]any{field: values}})
		}
	}
	return clauses
}
