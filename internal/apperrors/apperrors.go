// Package apperrors defines the three error kinds the form pipeline can
// surface: validation, transport, and configuration. None of them is fatal.
package apperrors

import (
	"errors"
	"sort"
	"strings"
)

// Kind classifies an Error.
type Kind string

const (
	// KindValidation is field-attributable and user-correctable.
	KindValidation Kind = "validation"
	// KindTransport means the gateway or lookup source was unreachable or slow.
	KindTransport Kind = "transport"
	// KindConfiguration is an operator-facing setup fault.
	KindConfiguration Kind = "configuration"
)

// Sentinels for errors.Is checks by kind.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrTransport     = &Error{Kind: KindTransport}
	ErrConfiguration = &Error{Kind: KindConfiguration}
)

// Error is the domain error carried through the form pipeline.
type Error struct {
	Kind    Kind
	Message string
	// Fields maps field names to human-readable messages. Only set for
	// validation errors.
	Fields map[string]string
	// Timeout marks a transport error caused by an elapsed deadline.
	Timeout bool
	// Rejected marks a transport error the upstream refused for good, such
	// as a duplicate submission. Sending the same request again will not help.
	Rejected bool
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind) + " error"
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the caller may retry the same request.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport && !e.Rejected
}

// Validation builds a validation error from a field -> message map.
func Validation(fields map[string]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: "validation failed",
		Fields:  fields,
	}
}

// Transport wraps a network or upstream failure.
func Transport(message string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: message, Cause: cause}
}

// Timeout wraps a deadline failure as a retryable transport error.
func Timeout(message string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: message, Timeout: true, Cause: cause}
}

// Rejected builds a non-retryable transport error.
func Rejected(message string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: message, Rejected: true, Cause: cause}
}

// Configuration wraps a missing or invalid setup.
func Configuration(message string, cause error) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldsOf returns the field violations of a validation error, or nil.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindValidation {
		return e.Fields
	}
	return nil
}
