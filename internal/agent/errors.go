// internal/agent/errors.go
package agent

import (
	"errors"
	"fmt"
)

// -- Sentinel errors --

var (
	// ErrBackquoteNotAllowed rejects a code block containing a back-quote. It is reported to the
	// model as feedback and never aborts the conversation.
	ErrBackquoteNotAllowed = errors.New("It is not allowed to use backquote")

	// ErrTurnLimit is returned by Send when the model keeps the conversation going past max_turns.
	ErrTurnLimit = errors.New("agent: conversation exceeded the turn limit")
)

// ArgumentError is a statement whose arguments do not match its verb.
type ArgumentError struct {
	Verb    string
	Line    int
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s.%s (line %d): %s", receiverName, e.Verb, e.Line, e.Message)
}

// UnknownVerbError is a statement calling a verb outside the fixed verb set.
type UnknownVerbError struct {
	Verb string
	Line int
}

func (e *UnknownVerbError) Error() string {
	return fmt.Sprintf("undefined method '%s' for %s (line %d)", e.Verb, receiverName, e.Line)
}
