package op

import (
	"errors"
	"fmt"
)

// Error is an operation rejected before it touched any state.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// RequestID identifies the rejected operation, when known.
	RequestID string

	// ElementID identifies the element the operation targets, when known.
	ElementID string
}

// ErrorCode categorizes operation errors.
type ErrorCode string

const (
	// ErrCodeMalformed indicates missing or ill-typed fields for the op type.
	ErrCodeMalformed ErrorCode = "MALFORMED_OPERATION"

	// ErrCodeMissingInverse indicates an undoable op without an inverse.
	ErrCodeMissingInverse ErrorCode = "MISSING_INVERSE"

	// ErrCodeUnknownElement indicates the target element does not exist.
	ErrCodeUnknownElement ErrorCode = "UNKNOWN_ELEMENT"

	// ErrCodeNotUndoable indicates an attempt to invert a snapshot replace.
	ErrCodeNotUndoable ErrorCode = "NOT_UNDOABLE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.RequestID != "" && e.ElementID != "":
		return fmt.Sprintf("%s: %s (request=%s, element=%s)", e.Code, e.Message, e.RequestID, e.ElementID)
	case e.RequestID != "":
		return fmt.Sprintf("%s: %s (request=%s)", e.Code, e.Message, e.RequestID)
	case e.ElementID != "":
		return fmt.Sprintf("%s: %s (element=%s)", e.Code, e.Message, e.ElementID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsMalformed reports whether err rejects an operation for its shape.
// A missing inverse counts as malformed.
func IsMalformed(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == ErrCodeMalformed || oe.Code == ErrCodeMissingInverse
	}
	return false
}

// IsUnknownElement reports whether err names a missing target element.
func IsUnknownElement(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == ErrCodeUnknownElement
	}
	return false
}

func malformed(o Operation, format string, args ...any) *Error {
	return &Error{
		Code:      ErrCodeMalformed,
		Message:   fmt.Sprintf(format, args...),
		RequestID: o.RequestID,
		ElementID: o.ElementID,
	}
}

// NewUnknownElementError reports that id is not present in any collection.
func NewUnknownElementError(o Operation, id string) *Error {
	return &Error{
		Code:      ErrCodeUnknownElement,
		Message:   "element not found",
		RequestID: o.RequestID,
		ElementID: id,
	}
}
