// Package query drives one retrieval-augmented query end to end:
// embed the query text, run the lexical and vector retrievals concurrently,
// fuse them with Reciprocal Rank Fusion, and hand the top hits to the answer
// generator. Vector retrieval is best-effort; lexical retrieval is mandatory.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/docquery/internal/domain"
	"github.com/kailas-cloud/docquery/internal/metrics"
	"github.com/kailas-cloud/docquery/internal/usecase/generate"
)

// Options holds the retrieval tuning knobs.
type Options struct {
	BM25TopN            int
	VectorTopN          int
	RRFK                int
	QueryTopK           int
	DedupeWithinRanking bool
}

// Service is the stateless per-query orchestrator.
type Service struct {
	retriever Retriever
	embedder  domain.BatchEmbedder
	generator generate.Generator
	opts      Options
	logger    *zap.Logger
}

// New creates a query service.
func New(
	retriever Retriever,
	embedder domain.BatchEmbedder,
	generator generate.Generator,
	opts Options,
	logger *zap.Logger,
) *Service {
	return &Service{
		retriever: retriever,
		embedder:  embedder,
		generator: generator,
		opts:      opts,
		logger:    logger,
	}
}

// Query answers one question over the corpus. domainFilter restricts hits to
// the given sources, version to one corpus version; both may be empty.
func (s *Service) Query(
	ctx context.Context, text string, domainFilter []string, version string,
) (domain.Answer, error) {
	total := time.Now()
	var diag domain.Diagnostics

	filters := domain.Filters{}.WithSource(domainFilter).WithVersion(version)

	queryVector := s.embedQuery(ctx, text, &diag)

	lexical, vector, err := s.retrieve(ctx, text, queryVector, filters, &diag)
	if err != nil {
		return domain.Answer{}, err
	}

	fusionStart := time.Now()
	fused := fuse(
		[]domain.Ranking{lexical, vector},
		s.opts.RRFK,
		fuseOptions{DedupeWithinRanking: s.opts.DedupeWithinRanking},
	)
	if len(fused) > s.opts.QueryTopK {
		fused = fused[:s.opts.QueryTopK]
	}
	diag.FusionMS = time.Since(fusionStart).Milliseconds()
	metrics.RetrievalStageDuration.WithLabelValues("fusion").Observe(time.Since(fusionStart).Seconds())

	answerText := s.generateAnswer(ctx, text, fused, &diag)

	diag.TotalMS = time.Since(total).Milliseconds()
	return domain.Answer{
		Text:        answerText,
		Citations:   fused,
		Diagnostics: diag,
	}, nil
}

// embedQuery vectorizes the query text. An empty query never reaches the
// network: it yields an empty vector immediately and the vector leg is
// skipped downstream.
func (s *Service) embedQuery(ctx context.Context, text string, diag *domain.Diagnostics) []float32 {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	start := time.Now()
	vectors := s.embedder.EmbedBatch(ctx, []string{text})
	diag.EmbeddingMS = time.Since(start).Milliseconds()
	metrics.RetrievalStageDuration.WithLabelValues("embedding").Observe(time.Since(start).Seconds())

	if len(vectors) != 1 || len(vectors[0]) == 0 {
		diag.EmbeddingDegraded = true
		metrics.RetrievalDegradedTotal.WithLabelValues("embedding").Inc()
		s.logger.Warn("Query embedding unavailable, continuing lexical-only")
		return nil
	}
	return vectors[0]
}

// retrieve runs the two retrieval legs concurrently. A vector-leg failure
// degrades to an empty ranking and is recorded in diagnostics; a lexical-leg
// failure aborts the query.
func (s *Service) retrieve(
	ctx context.Context,
	text string,
	queryVector []float32,
	filters domain.Filters,
	diag *domain.Diagnostics,
) (domain.Ranking, domain.Ranking, error) {
	var lexical, vector domain.Ranking

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		start := time.Now()
		ranking, body, err := s.retriever.Lexical(gctx, text, filters, s.opts.BM25TopN)
		diag.RetrievalMS = time.Since(start).Milliseconds()
		diag.LexicalQueryBody = body
		metrics.RetrievalStageDuration.WithLabelValues("lexical").Observe(time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrLexicalSearch, err)
		}
		lexical = ranking
		return nil
	})

	if len(queryVector) > 0 {
		g.Go(func() error {
			start := time.Now()
			ranking, body, err := s.retriever.Vector(gctx, queryVector, s.opts.VectorTopN, filters)
			diag.VectorMS = time.Since(start).Milliseconds()
			diag.VectorQueryBody = body
			metrics.RetrievalStageDuration.WithLabelValues("vector").Observe(time.Since(start).Seconds())
			if err != nil {
				// Best-effort leg: degrade to an empty ranking.
				diag.VectorError = err.Error()
				metrics.RetrievalDegradedTotal.WithLabelValues("vector").Inc()
				s.logger.Warn("Vector search failed, continuing with lexical ranking only", zap.Error(err))
				return nil
			}
			vector = ranking
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return lexical, vector, nil
}

// generateAnswer calls the generation collaborator, degrading to the
// deterministic extractive summary on failure.
func (s *Service) generateAnswer(
	ctx context.Context, text string, hits []domain.Hit, diag *domain.Diagnostics,
) string {
	start := time.Now()
	answer, err := s.generator.Generate(ctx, text, hits)
	metrics.RetrievalStageDuration.WithLabelValues("generation").Observe(time.Since(start).Seconds())
	if err != nil {
		diag.GenerationDegraded = true
		metrics.RetrievalDegradedTotal.WithLabelValues("generation").Inc()
		s.logger.Error("Answer generation failed, returning extractive summary", zap.Error(err))
		return generate.Summarize(hits)
	}
	return answer
}
