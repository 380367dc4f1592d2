// File: internal/bidi/errors.go
package bidi

import (
	"errors"
	"fmt"
)

// ErrConnectionClosed resolves every call still pending when the reader stops,
// and every call issued after that point.
var ErrConnectionClosed = errors.New("bidi: connection closed")

// ProtocolError is the remote end's error envelope for one command.
type ProtocolError struct {
	Method     string
	Code       string
	Message    string
	Stacktrace string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s\n%s", e.Code, e.Message, e.Stacktrace)
}

// ScriptEvaluationError carries the display text of an exception thrown inside a realm.
type ScriptEvaluationError struct {
	Text string
}

func (e *ScriptEvaluationError) Error() string { return e.Text }

// UnknownTypeError is raised when a remote value carries a tag this client does not understand.
// It usually means the remote end speaks a newer protocol revision.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("Unknown type: %s", e.Type)
}

// UnsupportedValueError is returned when a Go value has no local value representation.
type UnsupportedValueError struct {
	Value interface{}
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("Cannot serialize %T", e.Value)
}

// IsProtocolError reports whether err carries a remote error envelope.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
