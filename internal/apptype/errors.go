package apptype

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input (missing required field,
// out-of-range score, k < 1). It is never retried.
type ValidationError struct {
	Op     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid %s: %s", e.Op, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// NotFoundError reports a missing node, edge, or session.
type NotFoundError struct {
	Op   string
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s not found: %s", e.Op, e.Kind, e.ID)
}

// StoreUnavailableError wraps a transient backend failure that persisted
// through all retries.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// EmbeddingUnavailableError wraps an embedding provider failure after the
// single retry has been exhausted. Callers should degrade to keyword signals.
type EmbeddingUnavailableError struct {
	Err error
}

func (e *EmbeddingUnavailableError) Error() string {
	return fmt.Sprintf("embedding provider unavailable: %v", e.Err)
}

func (e *EmbeddingUnavailableError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// IsEmbeddingUnavailable reports whether err is an EmbeddingUnavailableError.
func IsEmbeddingUnavailable(err error) bool {
	var ee *EmbeddingUnavailableError
	return errors.As(err, &ee)
}
