// Package apperr defines the error kinds the core surfaces to callers.
// Handlers map kinds to HTTP status codes with errors.As; everything else
// wraps with fmt.Errorf("...: %w", err) as usual.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	// KindValidation: input shape or enum value invalid. No state change.
	KindValidation Kind = iota + 1
	// KindConflict: a duplicate row exists and the caller required strict
	// insertion. The default ingestion path never surfaces this.
	KindConflict
	// KindPrecondition: wrong workflow state or segregation of duties
	// violated.
	KindPrecondition
	// KindUpstream: database, rule provider or exchange-rate provider
	// failed.
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindPrecondition:
		return "precondition"
	case KindUpstream:
		return "upstream"
	}
	return "unknown"
}

type Error struct {
	Kind   Kind
	Msg    string
	Fields []string // field-level messages, validation only
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if len(e.Fields) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Fields, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Fields: fields}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Msg: msg}
}

func Precondition(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Msg: fmt.Sprintf(format, args...)}
}

func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Msg: msg, Err: err}
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}

// FieldsOf returns the field-level messages of a validation error, or nil.
func FieldsOf(err error) []string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Fields
	}
	return nil
}
