package orders

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence failure")
	ErrUpstream    = errors.New("upstream unavailable")
)

// Error is returned by every Controller operation that fails.
type Error struct {
	Kind error  // one of the Err* kinds above
	Op   string // controller operation, e.g. "confirm"
	Msg  string // client-safe detail
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func validation(op, format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func conflict(op, format string, args ...any) *Error {
	return &Error{Kind: ErrConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func notFound(op, what string) *Error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: what + " not found"}
}

// outcome is the metrics label for err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "error"
	}
}
