// Package builderr defines the errors a charm build can fail with.
//
// A BuildError is fatal: the build stops and no manifest is written.
// Warnings are never errors; they are logged by the component that
// detects them.
package builderr

import (
	"errors"
	"fmt"
)

var (
	// ErrLint indicates one or more tactics failed validation.
	ErrLint = errors.New("lint failed")

	// ErrModified indicates the output directory was changed outside the build.
	ErrModified = errors.New("unexpected modifications")
)

// BuildError is a fatal, user-facing build failure.
type BuildError struct {
	// Msg is the message shown to the user.
	Msg string

	// Err is the underlying cause, if any.
	Err error
}

// Error returns the message, followed by the cause when present.
func (e *BuildError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

// Unwrap returns the underlying cause.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// Newf creates a BuildError with a formatted message.
func Newf(format string, args ...any) *BuildError {
	return &BuildError{Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a BuildError with a formatted message around err.
func Wrap(err error, format string, args ...any) *BuildError {
	return &BuildError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err is, or wraps, a BuildError.
func Is(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}
