package netq

import (
	"errors"
	"fmt"
)

// Special query error codes, fed back by the dispatch layer itself rather
// than the server.
const (
	// CodeResend asks for the query to be resent to a different DC.
	CodeResend int32 = 202

	// CodeCanceled marks a query canceled by its owner.
	CodeCanceled int32 = 203

	// CodeResendInvokeAfter asks for a resend with invokeAfter chaining.
	CodeResendInvokeAfter int32 = 204
)

// QueryError is the terminal error state of a NetQuery: an error code plus
// a human-readable message.
type QueryError struct {
	Code    int32
	Message string
}

// NewQueryError creates a query error from a code and message.
func NewQueryError(code int32, message string) *QueryError {
	return &QueryError{Code: code, Message: message}
}

func (e *QueryError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("query error %d", e.Code)
	}
	return fmt.Sprintf("query error %d: %s", e.Code, e.Message)
}

func (e *QueryError) IsResend() bool {
	return e.Code == CodeResend
}

func (e *QueryError) IsCanceled() bool {
	return e.Code == CodeCanceled
}

func (e *QueryError) IsResendInvokeAfter() bool {
	return e.Code == CodeResendInvokeAfter
}

// Actor-level errors.
var (
	// ErrNotInitialized means the actor was used before setup completed.
	ErrNotInitialized = errors.New("actor not initialized")

	// ErrStopped means the actor has shut down and accepts no more work.
	ErrStopped = errors.New("actor stopped")

	// ErrNoParent means SendQuery was called on an actor with no parent
	// channel attached.
	ErrNoParent = errors.New("parent actor not set")
)

// QueryFailedError wraps the QueryError of a failed query when it is
// surfaced through HandleQuery, so callers can distinguish "the query
// itself failed" from actor plumbing errors.
type QueryFailedError struct {
	Query *QueryError
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Query)
}

func (e *QueryFailedError) Unwrap() error {
	return e.Query
}
