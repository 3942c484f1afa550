package msgactor

import (
	"context"
	"errors"
	"sync"
)

// The "ask" pattern: a single-assignment future over a one-shot channel.
//
// The Promise side belongs to whoever will produce the answer; the
// ResponseFuture side belongs to the asker. Exactly one of Resolve or Drop
// wins, and the future always completes: a dropped promise resolves the
// asker with ErrCanceled instead of leaving it blocked forever.

// Promise is the producing half of an ask pair.
type Promise[T any] struct {
	ch   chan T
	once sync.Once
}

// ResponseFuture is the consuming half of an ask pair.
type ResponseFuture[T any] struct {
	ch <-chan T

	mu       sync.Mutex
	resolved bool
	val      T
	err      error
}

// NewAsk creates a linked promise/future pair.
func NewAsk[T any]() (*Promise[T], *ResponseFuture[T]) {
	ch := make(chan T, 1)
	return &Promise[T]{ch: ch}, &ResponseFuture[T]{ch: ch}
}

// Resolve delivers v to the asker. Only the first Resolve or Drop on a
// promise has any effect; Resolve reports whether it won.
func (p *Promise[T]) Resolve(v T) bool {
	won := false
	p.once.Do(func() {
		p.ch <- v
		close(p.ch)
		won = true
	})
	return won
}

// Drop abandons the promise, resolving the paired future with ErrCanceled.
// Producers must call Drop (usually deferred) on every promise they will
// not resolve, so askers never hang on a dead producer.
func (p *Promise[T]) Drop() {
	p.once.Do(func() {
		close(p.ch)
	})
}

// Await blocks until the promise is resolved or dropped, or ctx expires.
// A dropped promise yields ErrCanceled; an expired deadline yields
// ErrTimeout. Await is terminal: once completed, further calls return the
// same outcome.
func (f *ResponseFuture[T]) Await(ctx context.Context) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resolved {
		return f.val, f.err
	}

	select {
	case v, ok := <-f.ch:
		f.resolved = true
		if !ok {
			f.err = ErrCanceled
		} else {
			f.val = v
		}
	case <-ctx.Done():
		f.resolved = true
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			f.err = ErrTimeout
		} else {
			f.err = ErrCanceled
		}
	}

	return f.val, f.err
}

// TryAwait polls the future without blocking. ok is false while the answer
// is still pending.
func (f *ResponseFuture[T]) TryAwait() (v T, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resolved {
		return f.val, true, f.err
	}

	select {
	case val, open := <-f.ch:
		f.resolved = true
		if !open {
			f.err = ErrCanceled
		} else {
			f.val = val
		}
		return f.val, true, f.err
	default:
		return v, false, nil
	}
}
