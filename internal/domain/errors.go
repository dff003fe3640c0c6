package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrCapabilityUnavailable signals a 404-class response from an optional
	// backend endpoint. Callers fall back instead of retrying.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	// ErrLexicalSearch signals a failed lexical search. Lexical search is
	// mandatory, so this aborts the whole query.
	ErrLexicalSearch = errors.New("lexical search failed")
	// ErrProvisioning signals a terminal failure in the remote-model lifecycle.
	ErrProvisioning = errors.New("remote model provisioning failed")
	// ErrProvisioningTimeout signals an exhausted provisioning wait deadline.
	ErrProvisioningTimeout = errors.New("remote model provisioning timed out")
	// ErrGenerationFailed signals an answer generation failure.
	ErrGenerationFailed = errors.New("answer generation failed")
)

// ProvisioningError wraps ErrProvisioning with the lifecycle stage that failed.
type ProvisioningError struct {
	Stage string
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("%s: stage %s: %v", ErrProvisioning.Error(), e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	if e.Err != nil &&
		(errors.Is(e.Err, ErrProvisioningTimeout) || errors.Is(e.Err, ErrCapabilityUnavailable)) {
		return e.Err
	}
	return ErrProvisioning
}

// NewProvisioningError creates a provisioning error for the given stage.
func NewProvisioningError(stage string, err error) error {
	return &ProvisioningError{Stage: stage, Err: err}
}

// IsProvisioningFailure reports whether err belongs to the remote-model
// lifecycle error family (terminal failure, timeout, or missing capability).
func IsProvisioningFailure(err error) bool {
	return errors.Is(err, ErrProvisioning) ||
		errors.Is(err, ErrProvisioningTimeout) ||
		errors.Is(err, ErrCapabilityUnavailable)
}
