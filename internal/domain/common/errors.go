package common

import "errors"

var (
	ErrNotFound        = errors.New("requested item not found")
	ErrConflict        = errors.New("item already exists or conflict")
	ErrUnauthenticated = errors.New("authentication required or invalid credentials")
	ErrForbidden       = errors.New("action forbidden")
	ErrBadRequest      = errors.New("bad request")
)

// Ingestion pipeline error taxonomy. Row-level failures degrade to defaults
// and never surface here; these are the file-level and commit-level
// conditions that abort an ingestion with a user-facing message.
var (
	// ErrDetectionFailed indicates structural inference returned malformed or
	// empty output for a supposed statement.
	ErrDetectionFailed = errors.New("could not determine statement structure")

	// ErrRateLimited is surfaced verbatim when an external capability
	// throttles the request.
	ErrRateLimited = errors.New("external capability rate limited")

	// ErrQuotaExceeded is surfaced verbatim when an external capability
	// rejects the request for billing/quota reasons.
	ErrQuotaExceeded = errors.New("external capability quota exceeded")

	// ErrExtractionFailed indicates a supposedly valid vendor document yielded
	// zero transactions.
	ErrExtractionFailed = errors.New("no transactions could be extracted")

	// ErrCommitFailed indicates the bulk persistence of a reviewed batch was
	// rejected; the review buffer is preserved for retry.
	ErrCommitFailed = errors.New("commit of reviewed transactions failed")

	// ErrEmptyBuffer rejects a commit attempted on an empty review buffer.
	ErrEmptyBuffer = errors.New("review buffer is empty")
)
