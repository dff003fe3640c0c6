package chi

import (
	"github.com/kailas-cloud/docquery/internal/domain"
)

// queryRequest is the POST /query request body.
type queryRequest struct {
	Q            string   `json:"q"`
	TopK         int      `json:"top_k,omitempty"`
	DomainFilter []string `json:"domain_filter,omitempty"`
	Version      string   `json:"version,omitempty"`
}

// citation is one answer source in the response.
type citation struct {
	ID      string   `json:"id"`
	Snippet string   `json:"snippet,omitempty"`
	Source  string   `json:"source,omitempty"`
	Version string   `json:"version,omitempty"`
	HPath   []string `json:"h_path,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// queryResponse is the POST /query response body.
type queryResponse struct {
	Answer      string             `json:"answer"`
	Citations   []citation         `json:"citations"`
	Diagnostics domain.Diagnostics `json:"diagnostics"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned by the API.
const (
	codeBadRequest    = "bad_request"
	codeUnauthorized  = "unauthorized"
	codeSearchFailure = "search_failure"
	codeInternal      = "internal_error"
)

func citationsFromHits(hits []domain.Hit) []citation {
	out := make([]citation, len(hits))
	for i, h := range hits {
		out[i] = citation{
			ID:      h.ID,
			Snippet: h.Snippet,
			Source:  h.Source,
			Version: h.Version,
			HPath:   h.HPath,
			URL:     h.URL,
		}
	}
	return out
}
