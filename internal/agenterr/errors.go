// Package agenterr defines the error-kind taxonomy shared across the agent
// execution core. Components wrap failures in *Error so callers can branch
// on Kind without parsing message strings.
package agenterr

import "fmt"

// Kind is a non-language-level error category.
type Kind string

const (
	ConfigInvalid        Kind = "config_invalid"
	ProtocolFraming      Kind = "protocol_framing"
	ProtocolShape        Kind = "protocol_shape"
	TransportUnavailable Kind = "transport_unavailable"
	TransportTransient   Kind = "transport_transient"
	ToolNotFound         Kind = "tool_not_found"
	ToolExecutionError   Kind = "tool_execution_error"
	IterationLimit       Kind = "iteration_limit"
	Cancelled            Kind = "cancelled"
	Backpressure         Kind = "backpressure"
	Timeout              Kind = "timeout"
	StoreError           Kind = "store_error"
	Crashed              Kind = "crashed"
)

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOrDefault returns the Kind of err if it is (or wraps) an *Error, else def.
func KindOrDefault(err error, def Kind) Kind {
	if kind := KindOf(err); kind != "" {
		return kind
	}
	return def
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else "".
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if asErr, ok := err.(*Error); ok {
			e = asErr
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Kind
}
