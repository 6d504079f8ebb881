package models

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInvalidInput         = errors.New("invalid input")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrUnreadableDocument   = errors.New("unreadable document")
	ErrOutOfOrderOperation  = errors.New("out of order operation")
	ErrPipelineNotReady     = errors.New("pipeline not ready")
	ErrEmbeddingFailure     = errors.New("embedding failure")
	ErrGenerationFailure    = errors.New("generation failure")
)

// Error carries the operation and the offending input alongside the kind.
type Error struct {
	Kind  error
	Op    string
	Input string
	Err   error
}

// NewError builds an *Error. err may be nil.
func NewError(kind error, op, input string, err error) *Error {
	return &Error{Kind: kind, Op: op, Input: input, Err: err}
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Input != "" {
		msg += fmt.Sprintf("(%q)", truncate(e.Input, 80))
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
