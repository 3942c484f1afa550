package msgactor

// Envelope is a type-erased message wrapper, letting a heterogeneous actor
// mailbox (chan Envelope) carry arbitrary message types. The stored value
// is recovered by naming its type: Downcast with a non-matching type
// returns false instead of leaking a runtime type error into business
// logic.
type Envelope struct {
	msg any
}

// NewEnvelope boxes msg with its dynamic type identity.
func NewEnvelope(msg any) *Envelope {
	return &Envelope{msg: msg}
}

// IsEmpty reports whether the envelope has already been consumed.
func (e *Envelope) IsEmpty() bool {
	return e.msg == nil
}

// Downcast returns the boxed message as M, consuming the envelope. A
// concrete M must match the stored dynamic type exactly; an interface M
// matches any stored value implementing it (so Downcast[any] always
// succeeds on a live envelope). A second downcast, or a downcast to a
// non-matching type, returns the zero value and false.
func Downcast[M any](e *Envelope) (M, bool) {
	var zero M
	if e == nil || e.msg == nil {
		return zero, false
	}
	m, ok := e.msg.(M)
	if !ok {
		return zero, false
	}
	e.msg = nil
	return m, true
}
