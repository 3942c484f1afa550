package transport

import "fmt"

// ConnectionErrorKind classifies transport-level failures.
type ConnectionErrorKind int

const (
	ErrKindTimeout ConnectionErrorKind = iota
	ErrKindSocket
	ErrKindSSL
	ErrKindProxy
	ErrKindFailed
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case ErrKindTimeout:
		return "timeout"
	case ErrKindSocket:
		return "socket"
	case ErrKindSSL:
		return "ssl"
	case ErrKindProxy:
		return "proxy"
	case ErrKindFailed:
		return "failed"
	default:
		return fmt.Sprintf("ConnectionErrorKind(%d)", int(k))
	}
}

// ConnectionError is the error type every transport operation returns.
// Transports never retry internally; the kind tells the caller whether a
// retry even makes sense.
type ConnectionError struct {
	Kind    ConnectionErrorKind
	Message string

	cause error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("connection %s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("connection %s: %s", e.Kind, e.Message)
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

func timeoutError(msg string, cause error) *ConnectionError {
	return &ConnectionError{Kind: ErrKindTimeout, Message: msg, cause: cause}
}

func socketError(msg string, cause error) *ConnectionError {
	return &ConnectionError{Kind: ErrKindSocket, Message: msg, cause: cause}
}

func failedError(msg string, cause error) *ConnectionError {
	return &ConnectionError{Kind: ErrKindFailed, Message: msg, cause: cause}
}

// wrapProxy lifts a proxy failure into a ConnectionError so callers can
// treat all connect failures uniformly while still being able to
// errors.As their way down to the ProxyError.
func wrapProxy(pe *ProxyError) *ConnectionError {
	return &ConnectionError{Kind: ErrKindProxy, Message: pe.Message, cause: pe}
}

// ProxyErrorKind classifies proxy negotiation failures.
type ProxyErrorKind int

const (
	ProxyErrInvalidType ProxyErrorKind = iota
	ProxyErrInvalidAddress
	ProxyErrConnectionFailed
	ProxyErrAuthenticationFailed
	ProxyErrUnsupportedType
)

func (k ProxyErrorKind) String() string {
	switch k {
	case ProxyErrInvalidType:
		return "invalid type"
	case ProxyErrInvalidAddress:
		return "invalid address"
	case ProxyErrConnectionFailed:
		return "connection failed"
	case ProxyErrAuthenticationFailed:
		return "authentication failed"
	case ProxyErrUnsupportedType:
		return "unsupported type"
	default:
		return fmt.Sprintf("ProxyErrorKind(%d)", int(k))
	}
}

type ProxyError struct {
	Kind    ProxyErrorKind
	Message string
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s: %s", e.Kind, e.Message)
}

func newProxyError(kind ProxyErrorKind, format string, args ...any) *ProxyError {
	return &ProxyError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
