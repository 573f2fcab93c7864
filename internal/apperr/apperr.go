// Package apperr carries a machine-readable kind alongside wrapped errors so
// callers can branch on the category of a failure without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAuth           Kind = "auth"
	KindSchemaFetch    Kind = "schema_fetch"
	KindValidation     Kind = "validation"
	KindQueryExecution Kind = "query_execution"
	KindParse          Kind = "parse"
	KindInference      Kind = "inference"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the human message of the outermost *Error, falling back to
// err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var target *Error
	if errors.As(err, &target) && target.Message != "" {
		return target.Message
	}
	return err.Error()
}
