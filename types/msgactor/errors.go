package msgactor

import (
	"errors"
	"fmt"
)

// Errors surfaced by the ask/tell primitives.
var (
	// ErrCanceled means the responding side went away before answering.
	ErrCanceled = errors.New("ask canceled")

	// ErrTimeout means the asker's deadline expired before an answer arrived.
	ErrTimeout = errors.New("ask timed out")

	// ErrActorNotFound means the addressed actor does not exist.
	ErrActorNotFound = errors.New("actor not found")

	// ErrActorNotRunning means the addressed actor exists but is not running.
	ErrActorNotRunning = errors.New("actor not running")
)

var (
	errDisconnected = errors.New("receiver hung up")
	errAlreadySent  = errors.New("tell sender already used")
)

// SendError is returned by TellSender.Send when the message could not be
// delivered. It carries the undelivered value back to the caller, so a
// failed fire-and-forget send is observable without panicking.
type SendError[T any] struct {
	Value T
	cause error
}

func (e *SendError[T]) Error() string {
	return fmt.Sprintf("tell send failed: %v", e.cause)
}

func (e *SendError[T]) Unwrap() error {
	return e.cause
}

// Disconnected reports whether the send failed because the receiver hung up
// (as opposed to the sender being reused).
func (e *SendError[T]) Disconnected() bool {
	return errors.Is(e.cause, errDisconnected)
}
