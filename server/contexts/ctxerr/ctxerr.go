// Package ctxerr provides functions to wrap errors with annotations close
// to where they are encountered. Callers wrap with New or Wrap[f] at the
// error site and may add more annotations as the error bubbles up; the
// context argument keeps the call sites uniform and leaves room to attach
// request-scoped metadata.
package ctxerr

import (
	"context"

	"github.com/pkg/errors"
)

// New creates a new error with the provided error message.
func New(ctx context.Context, errMsg string) error {
	return errors.New(errMsg)
}

// Errorf creates a new error with the provided formatted message.
func Errorf(ctx context.Context, format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap annotates err with the provided message. Returns nil if err is nil.
func Wrap(ctx context.Context, err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf annotates err with the provided formatted message. Returns nil if
// err is nil.
func Wrapf(ctx context.Context, err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Cause returns the root cause of err.
func Cause(err error) error {
	return errors.Cause(err)
}
