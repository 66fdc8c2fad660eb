package domain

import "errors"

// Error taxonomy of a run. Collaborators wrap these so the orchestrator
// can classify failures with errors.Is.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrSourceUnreachable = errors.New("source unreachable")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrValidationFailed  = errors.New("validation failed")
	ErrStreamTransport   = errors.New("stream transport error")
	ErrCommitFailed      = errors.New("commit failed")
	ErrPolicyDenied      = errors.New("denied by artifact policy")
)

// FailureKind names the taxonomy entry of a failure for the wire.
type FailureKind string

const (
	FailureSourceUnreachable FailureKind = "source_unreachable"
	FailureGeneration        FailureKind = "generation_failed"
	FailureValidation        FailureKind = "validation_failed"
	FailureCancelled         FailureKind = "cancelled"
	FailureInvalidRequest    FailureKind = "invalid_request"
	FailureInternal          FailureKind = "internal"
)

// ClassifyError maps an error to its failure kind.
func ClassifyError(err error) FailureKind {
	switch {
	case errors.Is(err, ErrSourceUnreachable):
		return FailureSourceUnreachable
	case errors.Is(err, ErrGenerationFailed), errors.Is(err, ErrPolicyDenied):
		return FailureGeneration
	case errors.Is(err, ErrValidationFailed):
		return FailureValidation
	case errors.Is(err, ErrInvalidRequest):
		return FailureInvalidRequest
	}
	return FailureInternal
}
