package domain

import (
	"errors"
	"fmt"
)

// Kind classifies attempt-level failures. Every failed execution maps to
// exactly one kind; kinds are stable identifiers while Detail strings are
// diagnostic only.
type Kind string

const (
	KindSubmission          Kind = "submission_error"
	KindConnectionExhausted Kind = "connection_exhausted"
	KindBackendFailure      Kind = "backend_failure"
	KindTimedOut            Kind = "timed_out"
	KindNoArtifact          Kind = "no_artifact_found"
	KindUpload              Kind = "upload_error"
	KindRecordNotFound      Kind = "record_not_found"
	KindRecordUpdate        Kind = "record_update_error"
	KindInternal            Kind = "internal_error"
)

// ErrNotReady signals that the backend has not recorded a terminal result for
// a handle yet. Callers keep waiting; it is never surfaced as a failure.
var ErrNotReady = errors.New("result not ready")

// Error carries a failure kind alongside the operation that produced it.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return e.Op
}

func (e *Error) Unwrap() error { return e.Cause }

// E wraps cause with a kind and operation description.
func E(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Ef is E with a formatted operation and no underlying cause.
func Ef(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Op: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from an error chain. Unclassified errors
// report KindInternal so every failure still yields a valid Outcome.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
