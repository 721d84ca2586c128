package vrisk

import (
	"errors"
	"fmt"
)

// ConflictError is returned when enqueueing a task type that already has a
// non-terminal task (single-flight violation). It maps to HTTP 409.
type ConflictError struct {
	TaskType TaskType
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a %s task is already running", e.TaskType)
}

// IsConflict reports whether err is a single-flight conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// NotFoundError is returned when a requested entity does not exist. It maps
// to HTTP 404.
type NotFoundError struct {
	Entity string
	ID     uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// InvalidArgumentError is returned on request validation failures. It maps
// to HTTP 4xx.
type InvalidArgumentError struct {
	Name   string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

// IsInvalidArgument reports whether err is a validation error.
func IsInvalidArgument(err error) bool {
	var iae *InvalidArgumentError
	return errors.As(err, &iae)
}

// ErrTaskStateTerminal is returned by task updates that would transition
// out of a terminal state.
var ErrTaskStateTerminal = errors.New("task is in a terminal state")
