package refine

import (
	"errors"
	"fmt"
)

// ErrorKind tags every engine error with its place in the taxonomy. The
// tool layer serializes the kind verbatim into its error envelope.
type ErrorKind string

const (
	// ErrValidation covers malformed input: empty ids, empty content,
	// oversized content, an unknown memory kind.
	ErrValidation ErrorKind = "validation"
	// ErrConstraint covers operations that would break a domain rule:
	// deleting a constitutional memory, touching a discarded or unknown
	// one, consolidating fewer than two distinct targets.
	ErrConstraint ErrorKind = "constraint"
	// ErrCapExceeded is returned when a mutating operation arrives after
	// the session's mutation budget is spent. Nothing is executed.
	ErrCapExceeded ErrorKind = "cap_exceeded"
	// ErrTerminated is returned for every call, search included, once a
	// session has reached a terminal state.
	ErrTerminated ErrorKind = "terminated"
)

// Error is the engine's typed failure value.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func validationErr(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func constraintErr(format string, args ...any) *Error {
	return &Error{Kind: ErrConstraint, Message: fmt.Sprintf(format, args...)}
}

func capExceededErr(format string, args ...any) *Error {
	return &Error{Kind: ErrCapExceeded, Message: fmt.Sprintf(format, args...)}
}

func terminatedErr(format string, args ...any) *Error {
	return &Error{Kind: ErrTerminated, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// AsError extracts the typed engine error from err, if there is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
