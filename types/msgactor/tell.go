package msgactor

import "sync/atomic"

// The "tell" pattern: one-shot fire-and-forget delivery. Send consumes the
// sender; delivery failure (receiver already hung up) comes back as a
// SendError carrying the value, never as a panic or a silent drop.

// TellSender is the sending half of a tell pair. It is single-use.
type TellSender[T any] struct {
	ch   chan<- T
	done <-chan struct{}
	used atomic.Bool
}

// TellReceiver is the receiving half of a tell pair.
type TellReceiver[T any] struct {
	// C yields the value, if one is ever sent.
	C <-chan T

	done      chan struct{}
	closeOnce atomic.Bool
}

// NewTell creates a linked sender/receiver pair.
func NewTell[T any]() (*TellSender[T], *TellReceiver[T]) {
	ch := make(chan T, 1)
	done := make(chan struct{})
	return &TellSender[T]{ch: ch, done: done},
		&TellReceiver[T]{C: ch, done: done}
}

// Send delivers v and consumes the sender. A second Send, or a Send after
// the receiver hung up, returns a SendError carrying v back.
func (s *TellSender[T]) Send(v T) error {
	if !s.used.CompareAndSwap(false, true) {
		return &SendError[T]{Value: v, cause: errAlreadySent}
	}

	select {
	case <-s.done:
		return &SendError[T]{Value: v, cause: errDisconnected}
	default:
	}

	select {
	case s.ch <- v:
		return nil
	case <-s.done:
		return &SendError[T]{Value: v, cause: errDisconnected}
	}
}

// Hangup tells the sender the receiver is gone. After Hangup, pending and
// future Sends fail with a disconnected SendError instead of blocking.
func (r *TellReceiver[T]) Hangup() {
	if r.closeOnce.CompareAndSwap(false, true) {
		close(r.done)
	}
}
