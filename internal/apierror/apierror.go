// Package apierror implements the error taxonomy shared between the
// arbitration engine and the bus facade.
package apierror

import "errors"

// Kind classifies a failure the way it is ultimately surfaced to bus
// clients. See spec §7 for the full taxonomy.
type Kind int

const (
	// KindNotSupported means the requested profile is absent from the
	// currently active driver set, or an action/driver was blocked.
	KindNotSupported Kind = iota
	// KindInvalidArgs means a malformed profile string, a request to hold
	// "balanced", or a cookie that does not belong to the caller.
	KindInvalidArgs
	// KindAccessDenied means the authorization client refused the call.
	KindAccessDenied
	// KindIO means a sysfs read or write failed.
	KindIO
	// KindInternal means an invariant was violated.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotSupported:
		return "not-supported"
	case KindInvalidArgs:
		return "invalid-args"
	case KindAccessDenied:
		return "access-denied"
	case KindIO:
		return "io"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with the Kind that determines how it is
// reported back on the bus.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}

	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op with the given kind and optional cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var apiErr *Error

	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}

	return false
}

// Sentinel causes used by lower layers (gateway, drivers) before they are
// wrapped into a Kind-carrying *Error by the engine.
var (
	ErrNotPresent      = errors.New("not present")
	ErrPermissionDenied = errors.New("permission denied")
)
