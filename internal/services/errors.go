package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingInput marks a stage that cannot start because a required
	// upstream artifact is absent from storage.
	ErrMissingInput = errors.New("missing input")
	// ErrComputeFailure marks a failed external engine invocation.
	ErrComputeFailure = errors.New("compute failure")
	// ErrInvalidArtifactSet marks registry input that fails validation.
	ErrInvalidArtifactSet = errors.New("invalid artifact set")
	// ErrNotFound marks an unknown execution handle or missing object.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks a required setting absent or unusable at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransient marks failures that are expected to clear on retry.
	ErrTransient = errors.New("transient failure")
)

// Kind classifies an error for logging and HTTP mapping.
type Kind string

const (
	KindMissingInput       Kind = "missing_input"
	KindComputeFailure     Kind = "compute_failure"
	KindInvalidArtifactSet Kind = "invalid_artifact_set"
	KindNotFound           Kind = "not_found"
	KindConfiguration      Kind = "configuration"
	KindTransient          Kind = "transient"
	KindUnknown            Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify resolves the sentinel marker carried by err, if any.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrMissingInput):
		return KindMissingInput
	case errors.Is(err, ErrComputeFailure):
		return KindComputeFailure
	case errors.Is(err, ErrInvalidArtifactSet):
		return KindInvalidArtifactSet
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

// FailureDetails carries the classified view of a stage error for logging and
// user-facing messages.
type FailureDetails struct {
	Kind    Kind
	Message string
	Cause   error
}

// Details extracts classification and a marker-free message from err.
func Details(err error) FailureDetails {
	if err == nil {
		return FailureDetails{Kind: KindUnknown}
	}
	kind := Classify(err)
	message := strings.TrimSpace(err.Error())
	if marker := markerFor(kind); marker != nil {
		message = strings.TrimPrefix(message, marker.Error()+": ")
	}
	return FailureDetails{Kind: kind, Message: message, Cause: errors.Unwrap(err)}
}

func markerFor(kind Kind) error {
	switch kind {
	case KindMissingInput:
		return ErrMissingInput
	case KindComputeFailure:
		return ErrComputeFailure
	case KindInvalidArtifactSet:
		return ErrInvalidArtifactSet
	case KindNotFound:
		return ErrNotFound
	case KindConfiguration:
		return ErrConfiguration
	case KindTransient:
		return ErrTransient
	default:
		return nil
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
