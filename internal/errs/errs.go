// Package errs defines the typed domain errors shared by the curator's
// admin operations and the retrieval cascade.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports invalid caller input (e.g., an empty keep
// selection on merge). Admin-facing mutations abort on it.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err (or its chain) is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError reports a missing entity by kind and id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound reports whether err (or its chain) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// EmptyCorpusError is raised by the retrieval cascade only when every tier,
// including the random fallback, yields nothing.
type EmptyCorpusError struct{}

func (e *EmptyCorpusError) Error() string {
	return "no question available in any retrieval tier"
}

// IsEmptyCorpus reports whether err (or its chain) is an EmptyCorpusError.
func IsEmptyCorpus(err error) bool {
	var ec *EmptyCorpusError
	return errors.As(err, &ec)
}
