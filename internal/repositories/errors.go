package repositories

import (
	"errors"
	"fmt"
)

// StoreError is the RepositoryError used by the memory, Postgres, and Redis backends.
type StoreError struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the record is missing.
func (e *StoreError) IsNotFound() bool { return e != nil && e.NotFound }

// IsConflict reports whether the write lost a concurrent update.
func (e *StoreError) IsConflict() bool { return e != nil && e.Conflict }

// IsUnavailable reports whether the backend is temporarily unreachable.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Unavailable }

// NewNotFoundError builds a not-found StoreError.
func NewNotFoundError(op string, format string, args ...any) error {
	return &StoreError{Op: op, Err: fmt.Errorf(format, args...), NotFound: true}
}

// NewConflictError builds a conflict StoreError.
func NewConflictError(op string, format string, args ...any) error {
	return &StoreError{Op: op, Err: fmt.Errorf(format, args...), Conflict: true}
}

// NewUnavailableError wraps a transport failure.
func NewUnavailableError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err, Unavailable: true}
}

// IsNotFound reports whether err carries repository not-found semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries repository conflict semantics.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
