package transport

import (
	"fmt"
	"sync/atomic"
)

// ConnectionState tracks a transport's lifecycle. Transitions are forward
// only: a Ready connection never goes back to Connecting, a Closed one is
// done for good.
type ConnectionState int32

const (
	StateEmpty ConnectionState = iota
	StateConnecting
	StateReady
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// stateVar is the atomic holder every transport embeds.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) get() ConnectionState {
	return ConnectionState(s.v.Load())
}

// transitionTo advances the state. Regressions are ignored and reported
// as false.
func (s *stateVar) transitionTo(next ConnectionState) bool {
	for {
		cur := s.v.Load()
		if ConnectionState(cur) >= next {
			return false
		}
		if s.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}
