// Package errs holds the engine's error taxonomy.
//
// Every failure that crosses a component boundary is tagged with a Kind so
// callers can decide between rejecting, retrying and skipping without
// string matching.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindUnknown     Kind = ""
	KindValidation  Kind = "VALIDATION"
	KindConcurrency Kind = "CONCURRENCY"
	// KindTransient and KindFatal are the two flavours of execution error.
	KindTransient  Kind = "TRANSIENT"
	KindFatal      Kind = "FATAL"
	KindMonitoring Kind = "MONITORING"
)

var (
	ErrAlreadyActive   = &Error{Kind: KindConcurrency, Msg: "trading session already active"}
	ErrNotActive       = &Error{Kind: KindConcurrency, Msg: "no active trading session"}
	ErrOrderInFlight   = &Error{Kind: KindConcurrency, Msg: "order already in flight for symbol"}
	ErrUnknownStrategy = &Error{Kind: KindValidation, Msg: "unknown strategy"}
)

// Error is a categorized error with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var s string
	if e.Op != "" {
		s = e.Op + ": "
	}
	s += e.Msg
	if e.Err != nil {
		if e.Msg != "" {
			s += ": "
		}
		s += e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind and message so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg && t.Op == "" && t.Err == nil
}

// E builds an Error.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap tags err with kind and op. It returns nil for a nil err.
func Wrap(err error, kind Kind, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf is a shorthand for a formatted validation error.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind != KindUnknown {
				return e.Kind
			}
			err = e.Err
			continue
		}
		return KindUnknown
	}
	return KindUnknown
}

func IsTransient(err error) bool { return KindOf(err) == KindTransient }

func IsFatal(err error) bool { return KindOf(err) == KindFatal }

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConcurrency:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindFatal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
