// Package hosterr defines the host error taxonomy.
package hosterr

import (
	"errors"
	"fmt"
)

// Kind classifies a host error
type Kind int

const (
	// KindUnknown is used for errors that did not originate in the host.
	KindUnknown Kind = iota
	// KindLoadFailed is fatal to one load attempt; the component is discarded.
	KindLoadFailed
	// KindInterfaceMissing means a capability is absent; the feature degrades.
	KindInterfaceMissing
	// KindProcessingError is a non-crash error code from the component.
	KindProcessingError
	// KindCrashed halts processing until reset or reload.
	KindCrashed
	// KindTimeout is degraded health; processing may continue.
	KindTimeout
	// KindIpcError means the isolation channel broke and the session is gone.
	KindIpcError
	// KindNotFound is a missing plugin path or parameter.
	KindNotFound
	// KindInvalidParameter is an out-of-range or malformed argument.
	KindInvalidParameter
)

func (k Kind) String() string {
	switch k {
	case KindLoadFailed:
		return "LoadFailed"
	case KindInterfaceMissing:
		return "InterfaceMissing"
	case KindProcessingError:
		return "ProcessingError"
	case KindCrashed:
		return "Crashed"
	case KindTimeout:
		return "Timeout"
	case KindIpcError:
		return "IpcError"
	case KindNotFound:
		return "NotFound"
	case KindInvalidParameter:
		return "InvalidParameter"
	default:
		return "Unknown"
	}
}

// Error is a classified host error
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// New creates an error of the given kind
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf creates an error with a formatted message
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg != "" {
			msg = msg + ": " + e.Err.Error()
		} else {
			msg = e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, hosterr.Crashed)
// works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	LoadFailed       = &Error{Kind: KindLoadFailed}
	InterfaceMissing = &Error{Kind: KindInterfaceMissing}
	ProcessingError  = &Error{Kind: KindProcessingError}
	Crashed          = &Error{Kind: KindCrashed}
	Timeout          = &Error{Kind: KindTimeout}
	IpcError         = &Error{Kind: KindIpcError}
	NotFound         = &Error{Kind: KindNotFound}
	InvalidParameter = &Error{Kind: KindInvalidParameter}
)

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Fatal reports whether the kind stops processing until a reset or reload
func (k Kind) Fatal() bool {
	return k == KindCrashed || k == KindIpcError || k == KindLoadFailed
}
