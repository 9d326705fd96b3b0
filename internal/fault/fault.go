// Package fault defines the error taxonomy shared by the document store,
// the edit journal, the forwarding protocol and the event engine.
//
// Client errors (NotFound, AmbiguousMatch, ConflictingEdit, MalformedPayload)
// abort the operation that raised them. DeliveryFailure and
// UnresolvableInterpolation are recoverable: they are logged by the component
// that detects them and never reach the caller of an edit.
package fault

import (
	"errors"
	"fmt"
)

// Code categorizes a fault.
type Code string

const (
	// CodeNotFound indicates a path or identifier resolved to nothing.
	CodeNotFound Code = "NOT_FOUND"

	// CodeAmbiguousMatch indicates a path resolved to more than one node.
	CodeAmbiguousMatch Code = "AMBIGUOUS_MATCH"

	// CodeConflictingEdit indicates another edit scope is already open.
	CodeConflictingEdit Code = "CONFLICTING_EDIT"

	// CodeMalformedPayload indicates a bad mimetype, JSON or XML payload,
	// or an argument that cannot be applied.
	CodeMalformedPayload Code = "MALFORMED_PAYLOAD"

	// CodeDeliveryFailure indicates a remote listener could not be reached.
	CodeDeliveryFailure Code = "DELIVERY_FAILURE"

	// CodeUnresolvableInterpolation indicates a computed value could not be evaluated.
	CodeUnresolvableInterpolation Code = "UNRESOLVABLE_INTERPOLATION"
)

// Error is a coded error with optional location details.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Path is the element path involved, if any.
	Path string

	// ID is the element identifier involved, if any.
	ID string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Path != "" && e.ID != "":
		msg = fmt.Sprintf("%s (path=%s, id=%s)", msg, e.Path, e.ID)
	case e.Path != "":
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	case e.ID != "":
		msg = fmt.Sprintf("%s (id=%s)", msg, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsClientError reports whether err is one of the client-visible kinds.
func IsClientError(err error) bool {
	switch CodeOf(err) {
	case CodeNotFound, CodeAmbiguousMatch, CodeConflictingEdit, CodeMalformedPayload:
		return true
	}
	return false
}

// NotFoundPath creates a NotFound error for a path.
func NotFoundPath(path string) *Error {
	return &Error{Code: CodeNotFound, Message: "no element matches path", Path: path}
}

// NotFoundID creates a NotFound error for an element identifier.
func NotFoundID(id string) *Error {
	return &Error{Code: CodeNotFound, Message: "no element with this identifier", ID: id}
}

// Ambiguous creates an AmbiguousMatch error.
func Ambiguous(path string, count int) *Error {
	return &Error{
		Code:    CodeAmbiguousMatch,
		Message: fmt.Sprintf("path matches %d elements", count),
		Path:    path,
	}
}

// ConflictingEdit creates the error returned when an edit scope is already open.
func ConflictingEdit() *Error {
	return &Error{Code: CodeConflictingEdit, Message: "another edit is in progress, retry later"}
}

// Malformed creates a MalformedPayload error.
func Malformed(format string, args ...any) *Error {
	return &Error{Code: CodeMalformedPayload, Message: fmt.Sprintf(format, args...)}
}

// MalformedWrap creates a MalformedPayload error wrapping a cause.
func MalformedWrap(err error, format string, args ...any) *Error {
	return &Error{Code: CodeMalformedPayload, Message: fmt.Sprintf(format, args...), Err: err}
}

// Delivery creates a DeliveryFailure error for a listener.
func Delivery(listener string, err error) *Error {
	return &Error{Code: CodeDeliveryFailure, Message: "delivery to " + listener + " failed", Err: err}
}

// Interpolation creates an UnresolvableInterpolation error.
func Interpolation(expr string) *Error {
	return &Error{Code: CodeUnresolvableInterpolation, Message: fmt.Sprintf("cannot evaluate {%s}", expr)}
}
