package model

import (
	"errors"
	"fmt"
)

// FatalError marks a failure that must not be retried: insufficient balance,
// fee cap exceeded, malformed quote or payload, missing configuration.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as unretryable. Returns nil for a nil err.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Fatalf formats an unretryable error.
func Fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err or anything it wraps is a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// SoftError marks an advisory failure: the operation partially succeeded,
// funds are accounted for, and the caller may continue with a warning.
type SoftError struct {
	Err error
}

func (e *SoftError) Error() string { return e.Err.Error() }

func (e *SoftError) Unwrap() error { return e.Err }

// Softf formats an advisory error.
func Softf(format string, args ...any) error {
	return &SoftError{Err: fmt.Errorf(format, args...)}
}

// IsSoft reports whether err or anything it wraps is a SoftError.
func IsSoft(err error) bool {
	var soft *SoftError
	return errors.As(err, &soft)
}
