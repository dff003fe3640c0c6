package domain

import "context"

// BatchEmbedder vectorizes a batch of texts. Implementations always return
// exactly one vector per input text, in input order; a nil or empty vector
// marks "embedding unavailable for this text". Failures never surface as
// error values mixed into a vector.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

// HealthChecker verifies embedding backend availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ProvisionedModel is the in-memory cache of remote-model identifiers. The
// search engine is the system of record for the underlying resources; this
// only memoizes ids to avoid repeated lookups.
type ProvisionedModel struct {
	ConnectorID string
	ModelID     string
	DeployState DeployState
}

// DeployState tracks the remote model deployment lifecycle.
type DeployState string

// Deploy states for a provisioned remote model.
const (
	DeployUnknown   DeployState = "unknown"
	DeployDeploying DeployState = "deploying"
	DeployDeployed  DeployState = "deployed"
	DeployFailed    DeployState = "failed"
)
