package policy

import (
	"errors"
	"net/http"
)

// Kind classifies a failure for propagation across trust boundaries.
type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindBadRequest       Kind = "bad_request"
	KindTooLarge         Kind = "too_large"
	KindNotFound         Kind = "not_found"
	KindBadGateway       Kind = "bad_gateway"
	KindTimeout          Kind = "timeout"
	KindExecutionFailure Kind = "execution_failure"
	KindInternal         Kind = "internal"
)

// HTTPStatus maps a kind to the status used when it is surfaced as a rejection.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindNotFound:
		return http.StatusNotFound
	case KindBadGateway:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Code is short and safe to show to callers;
// Detail may carry more context and is also caller-safe.
type Error struct {
	Kind   Kind
	Code   string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Code + ": " + e.Detail
	}
	return e.Code
}

// Message is the caller-facing text.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Code
}

func newError(kind Kind, code, detail string) *Error {
	return &Error{Kind: kind, Code: code, Detail: detail}
}

// Forbidden builds a KindForbidden error.
func Forbidden(code, detail string) *Error { return newError(KindForbidden, code, detail) }

// BadRequest builds a KindBadRequest error.
func BadRequest(code, detail string) *Error { return newError(KindBadRequest, code, detail) }

// NotFound builds a KindNotFound error.
func NotFound(code, detail string) *Error { return newError(KindNotFound, code, detail) }

// BadGateway builds a KindBadGateway error.
func BadGateway(code, detail string) *Error { return newError(KindBadGateway, code, detail) }

// Unauthorized builds a KindUnauthorized error.
func Unauthorized(detail string) *Error {
	return newError(KindUnauthorized, "unauthorized", detail)
}

// KindOf extracts the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsDenied reports whether err is a permission denial.
func IsDenied(err error) bool {
	return KindOf(err) == KindForbidden
}
