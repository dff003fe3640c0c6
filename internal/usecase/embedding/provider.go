// Package embedding composes the tiered embedding provider: the search
// engine's provisioned remote model is the preferred path, the direct client
// the fallback. A batch is always served entirely by one path so vector
// spaces and failure semantics stay consistent within it.
package embedding

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docquery/internal/domain"
	"github.com/kailas-cloud/docquery/internal/metrics"
)

// RemoteInferrer is the provisioned remote-model inference contract.
type RemoteInferrer interface {
	InferEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider implements domain.BatchEmbedder over the tiered fallback chain.
type Provider struct {
	remote RemoteInferrer // nil disables the remote path
	direct domain.BatchEmbedder
	logger *zap.Logger
}

// NewProvider creates the tiered provider. remote may be nil when the
// remote-provisioning path is disabled in configuration.
func NewProvider(remote RemoteInferrer, direct domain.BatchEmbedder, logger *zap.Logger) *Provider {
	return &Provider{remote: remote, direct: direct, logger: logger}
}

// EmbedBatch returns exactly one vector per text, in order. Any remote-path
// failure, including empty or partial results, falls back to the direct
// client for the entire batch.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}

	if p.remote != nil {
		vectors, err := p.remote.InferEmbeddings(ctx, texts)
		reason := remoteFailure(vectors, len(texts), err)
		if reason == "" {
			return vectors
		}
		metrics.EmbeddingFallbacksTotal.WithLabelValues(reason).Inc()
		p.logger.Warn("Remote embedding path unavailable, falling back to direct client",
			zap.String("reason", reason), zap.Error(err))
	}

	return p.direct.EmbedBatch(ctx, texts)
}

// remoteFailure classifies a remote result; empty string means usable.
func remoteFailure(vectors [][]float32, want int, err error) string {
	switch {
	case errors.Is(err, domain.ErrCapabilityUnavailable):
		return "capability_unavailable"
	case errors.Is(err, domain.ErrProvisioningTimeout):
		return "provisioning_timeout"
	case err != nil:
		return "provisioning_error"
	case len(vectors) != want:
		return "partial_result"
	}
	for _, v := range vectors {
		if len(v) == 0 {
			return "partial_result"
		}
	}
	return ""
}
