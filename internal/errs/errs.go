// Package errs defines the error taxonomy shared by the ledger core
// and its transport adapters.
package errs

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindBadRequest
	KindConflict
	KindUnauthorized
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(msg string) error { return &Error{Kind: KindNotFound, Msg: msg} }

func BadRequest(msg string) error { return &Error{Kind: KindBadRequest, Msg: msg} }

func Conflict(msg string) error { return &Error{Kind: KindConflict, Msg: msg} }

func Unauthorized(msg string) error { return &Error{Kind: KindUnauthorized, Msg: msg} }

// Wrap keeps the cause available for errors.Is/As while attaching a kind.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

func IsBadRequest(err error) bool { return KindOf(err) == KindBadRequest }

func IsConflict(err error) bool { return KindOf(err) == KindConflict }

func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }

// HTTPStatus maps an error kind to the status the transport layer
// reports. Conflict is an expected concurrency signal, not a fault.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
