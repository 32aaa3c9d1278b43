package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a stage failure for retry decisions
type ErrorKind string

const (
	// ErrTransient covers network, timeout and server-side failures.
	// The executor retries these with backoff.
	ErrTransient ErrorKind = "transient"
	// ErrPermanent covers invalid input and malformed external responses.
	// Never retried.
	ErrPermanent ErrorKind = "permanent"
	// ErrQuotaExceeded is a permanent failure that can also short-circuit
	// a stage before its collaborator is invoked.
	ErrQuotaExceeded ErrorKind = "quota_exceeded"
	// ErrResource covers missing local resources (disk, external tools).
	// Retrying cannot fix these, so the stage fails at start.
	ErrResource ErrorKind = "resource"
)

// StageError is a classified failure from a stage collaborator
type StageError struct {
	Kind      ErrorKind
	Stage     Stage
	Code      string
	Message   string
	Solutions []string
	Err       error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the executor may retry after this failure
func (e *StageError) Retryable() bool {
	return e.Kind == ErrTransient
}

// Transient wraps err as a retryable failure
func Transient(code, message string, err error) *StageError {
	return &StageError{Kind: ErrTransient, Code: code, Message: message, Err: err}
}

// Permanent wraps err as a non-retryable business failure
func Permanent(code, message string, err error) *StageError {
	return &StageError{Kind: ErrPermanent, Code: code, Message: message, Err: err}
}

// QuotaExceeded builds the distinguished quota failure for a service
func QuotaExceeded(service string) *StageError {
	return &StageError{
		Kind:    ErrQuotaExceeded,
		Code:    "quota_exceeded",
		Message: fmt.Sprintf("daily quota exhausted for %s", service),
		Solutions: []string{
			"wait for the daily quota reset",
			"raise the budget for " + service + " in the config",
		},
	}
}

// Resource builds a missing-local-resource failure
func Resource(code, message string, err error) *StageError {
	return &StageError{Kind: ErrResource, Code: code, Message: message, Err: err}
}

// Classify maps an arbitrary error onto the taxonomy. Unclassified
// errors are treated as transient so the executor gets a chance to
// retry what might be a flaky external call.
func Classify(err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return Transient("unclassified", err.Error(), err)
}

// IsQuotaExceeded reports whether err is the distinguished quota failure
func IsQuotaExceeded(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Kind == ErrQuotaExceeded
}
