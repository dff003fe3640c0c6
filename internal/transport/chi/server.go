// Package chi is the HTTP transport for the docquery API.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docquery/internal/domain"
	logpkg "github.com/kailas-cloud/docquery/internal/logger"
	healthuc "github.com/kailas-cloud/docquery/internal/usecase/health"
	queryuc "github.com/kailas-cloud/docquery/internal/usecase/query"
)

// Server holds the HTTP handlers for the docquery API.
type Server struct {
	query  *queryuc.Service
	health *healthuc.Service
	logger *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(query *queryuc.Service, health *healthuc.Service, logger *zap.Logger) *Server {
	return &Server{query: query, health: health, logger: logger}
}

// HandleQuery handles POST /query.
func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Q) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Query text is required")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "top_k must not be negative")
		return
	}

	answer, err := s.query.Query(r.Context(), req.Q, req.DomainFilter, req.Version)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	hits := answer.Citations
	if req.TopK > 0 && len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:      answer.Text,
		Citations:   citationsFromHits(hits),
		Diagnostics: answer.Diagnostics,
	})
}

// HandleHealth handles GET /healthz.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// HandleMetrics handles GET /metrics.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logpkg.FromContext(r.Context()).Warn("query failed", zap.Error(err))
	if errors.Is(err, domain.ErrLexicalSearch) {
		writeError(w, http.StatusBadGateway, codeSearchFailure, domain.ErrLexicalSearch.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}
