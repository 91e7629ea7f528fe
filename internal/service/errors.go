// ===========================================
// Package service - Business Logic Layer
// ===========================================
// Services orchestrate repositories, the membership filter, the code
// generator, and the security primitives. They return *Error values
// that the handlers map onto the JSON envelope; raw repository or
// driver errors never cross the HTTP boundary.
// ===========================================

package service

import (
	"fmt"
	"net/http"
)

// Kind classifies a service failure. Each kind maps to exactly one
// HTTP status; the challenge-flow kinds (Cooldown, AlreadyActive,
// EmailTaken, InvalidOrExpired) exist so handlers and tests can tell
// them apart from generic failures with the same status.
type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindUnprocessable
	KindCooldown
	KindAlreadyActive
	KindEmailTaken
	KindInvalidOrExpired
	KindInternal
)

// Error is a classified, client-presentable failure. Message is a
// stable string: no hashes, stack traces, or database ids.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Status maps the kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindBadRequest, KindAlreadyActive, KindInvalidOrExpired:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindEmailTaken:
		return http.StatusConflict
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindCooldown:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func BadRequest(msg string) *Error   { return &Error{Kind: KindBadRequest, Message: msg} }
func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Message: msg} }
func Forbidden(msg string) *Error    { return &Error{Kind: KindForbidden, Message: msg} }
func NotFound(msg string) *Error     { return &Error{Kind: KindNotFound, Message: msg} }
func Conflict(msg string) *Error     { return &Error{Kind: KindConflict, Message: msg} }
func Cooldown(msg string) *Error     { return &Error{Kind: KindCooldown, Message: msg} }

func Unprocessable(msg string) *Error { return &Error{Kind: KindUnprocessable, Message: msg} }
func AlreadyActive(msg string) *Error { return &Error{Kind: KindAlreadyActive, Message: msg} }
func EmailTaken(msg string) *Error    { return &Error{Kind: KindEmailTaken, Message: msg} }

func InvalidOrExpired(msg string) *Error {
	return &Error{Kind: KindInvalidOrExpired, Message: msg}
}

func Internal(msg string) *Error { return &Error{Kind: KindInternal, Message: msg} }

func Unprocessablef(format string, args ...any) *Error {
	return Unprocessable(fmt.Sprintf(format, args...))
}
