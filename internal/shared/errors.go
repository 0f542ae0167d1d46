package shared

import "errors"

// Error kinds. Domain errors wrap one of these so transports can map them without importing domain packages.
var (
	// ErrNotFound indicates resource not found, including resources owned by another org.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the request conflicts with current state.
	ErrConflict = errors.New("conflict")
	// ErrUnprocessable indicates a well-formed request that breaks a business rule.
	ErrUnprocessable = errors.New("unprocessable")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the principal lacks the required level.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates a missing principal.
	ErrUnauthorized = errors.New("unauthorized")
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// NewError returns an error with message msg that matches kind under errors.Is.
func NewError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}
