// Package apperror defines the error taxonomy shared by the service layer
// and the HTTP transport.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindExpired      Kind = "expired"
	KindInvalidInput Kind = "invalid_input"
	KindInternal     Kind = "internal_error"
)

// Error is a classified error. Fields carries per-field validation messages
// for KindInvalidInput.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " [%s: %s]", k, e.Fields[k])
		}
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind onto a response code.
func (e *Error) HTTPStatus() int {
	return StatusFor(e.Kind)
}

func StatusFor(k Kind) int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired:
		return http.StatusGone
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// NotFound reports a missing resource, or one deliberately hidden from the caller.
func NotFound(entity string, id any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

func Expired(msg string) *Error {
	return &Error{Kind: KindExpired, Message: msg}
}

// Invalid reports a validation failure with per-field messages.
func Invalid(fields map[string]string) *Error {
	return &Error{Kind: KindInvalidInput, Message: "validation failed", Fields: fields}
}

// InvalidField is Invalid for a single field.
func InvalidField(field, msg string) *Error {
	return Invalid(map[string]string{field: msg})
}

// Internal wraps an unexpected failure. The message is for logs only.
func Internal(err error, msg string) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
