// Package errors provides error handling for mintdoi.
//
// This package re-exports github.com/cockroachdb/errors and adds the error
// kinds the batch engine classifies on. Clients attach a kind to an error with
// Mark, which keeps the original message (HTTP status, response body) while
// letting errors.Is answer "is this a rate limit?".
//
// Usage:
//
//	resp, err := client.Do(req)
//	if err != nil {
//	    return errors.Mark(errors.Wrap(err, "get record"), errors.ErrTransientNetwork)
//	}
//
//	if errors.Is(err, errors.ErrRateLimited) {
//	    // back off and retry
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails

	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Error kinds. Wrap or Mark these to attach a kind while keeping context;
// check them with errors.Is.
var (
	// ErrSchema indicates a missing or malformed source field, or a payload
	// that fails the registrar's required-field set. Never retried.
	ErrSchema = New("schema error")

	// ErrTransientNetwork indicates a connection-level failure (dial, reset, timeout).
	ErrTransientNetwork = New("transient network error")

	// ErrServiceUnavailable indicates an HTTP 5xx from a remote service.
	ErrServiceUnavailable = New("service unavailable")

	// ErrRateLimited indicates an HTTP 429 from a remote service.
	ErrRateLimited = New("rate limited")

	// ErrAuth indicates rejected credentials (HTTP 401/403).
	ErrAuth = New("authentication failed")

	// ErrConflict indicates the target already carries an identifier.
	ErrConflict = New("identifier conflict")

	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates a 4xx the caller cannot fix by retrying
	ErrInvalidRequest = New("invalid request")

	// ErrInvalidConfig indicates missing or malformed configuration.
	ErrInvalidConfig = New("invalid configuration")

	// ErrNoInput indicates no readable identifiers were supplied.
	ErrNoInput = New("no input data")

	// ErrStaleCommit indicates an item changed underneath a commit.
	ErrStaleCommit = New("stale commit")

	// ErrIllegalTransition indicates a stage change the state machine forbids.
	ErrIllegalTransition = New("illegal stage transition")
)

// kinds is ordered: the first match wins when an error carries several marks.
var kinds = []struct {
	name string
	err  error
}{
	{"SchemaError", ErrSchema},
	{"AuthError", ErrAuth},
	{"ConflictError", ErrConflict},
	{"RateLimited", ErrRateLimited},
	{"ServiceUnavailable", ErrServiceUnavailable},
	{"TransientNetworkError", ErrTransientNetwork},
	{"NotFound", ErrNotFound},
	{"InvalidRequest", ErrInvalidRequest},
	{"InvalidConfig", ErrInvalidConfig},
	{"NoInput", ErrNoInput},
	{"StaleCommit", ErrStaleCommit},
	{"IllegalTransition", ErrIllegalTransition},
}

// KindOf returns the name of the first error kind err carries, or "Unknown".
// The name is what gets persisted as an item's last_error kind.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// NewSchemaError creates a schema error with a formatted message
func NewSchemaError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrSchema)
}

// NewConfigError creates an invalid-configuration error with a formatted message
func NewConfigError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidConfig)
}

// IsSchemaError checks if an error is or wraps ErrSchema
func IsSchemaError(err error) bool {
	return err != nil && Is(err, ErrSchema)
}

// IsOperatorError reports whether err should exit with the usage code:
// bad configuration or no input data.
func IsOperatorError(err error) bool {
	return err != nil && IsAny(err, ErrInvalidConfig, ErrNoInput)
}
