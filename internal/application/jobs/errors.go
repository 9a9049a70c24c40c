package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrModuleNotFound is returned by Submit for an unknown module
	ErrModuleNotFound = errors.New("module not found")
	// ErrOperationNotFound is returned by Submit for an unknown operation
	ErrOperationNotFound = errors.New("operation not found")
	// ErrAlreadyStarted is returned when a job is executed twice
	ErrAlreadyStarted = errors.New("job already started")
	// ErrNotImplemented is returned by BaseOperation.Execute
	ErrNotImplemented = errors.New("operation not implemented")
	// ErrJobNotFound is returned by Queue.Job for unknown ids
	ErrJobNotFound = errors.New("job not found")
	// ErrNoCapacity is returned by RunChild when the child could never run
	ErrNoCapacity = errors.New("no capacity for child job")

	// ErrValidation marks payload shape violations
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization marks requesters lacking permission
	ErrAuthorization = errors.New("authorization failed")
	// ErrExecution marks failures of the operation itself
	ErrExecution = errors.New("execution failed")
)

// Kind classifies a job failure by the phase that produced it
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindExecution     Kind = "execution"
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuthorization:
		return ErrAuthorization
	default:
		return ErrExecution
	}
}

// Error is the classified failure carried by a failed Result.
// It matches both its kind sentinel and the underlying cause with errors.Is.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Kind.sentinel(), e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

// classify wraps err with kind unless it is already classified for the same path
func classify(kind Kind, path string, err error) *Error {
	var jobErr *Error
	if errors.As(err, &jobErr) && jobErr.Path == path {
		return jobErr
	}
	return &Error{Kind: kind, Path: path, Err: err}
}

// KindOf returns the failure kind of err, or "" when err is not a job error
func KindOf(err error) Kind {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Kind
	}
	return ""
}
