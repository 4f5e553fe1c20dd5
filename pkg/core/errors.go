package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by the reservation when an
	// unfinished task with the same (course, operation, key) exists.
	// No duplicate record is created.
	ErrAlreadyRunning = errors.New("coursetasks: duplicate task is already running")

	// ErrRescoreNotSupported rejects a rescore submission whose target
	// module does not advertise the rescore capability.
	ErrRescoreNotSupported = errors.New("coursetasks: problem's definition does not support rescoring")

	// ErrModuleNotFound means the target problem could not be resolved
	// in the course content store.
	ErrModuleNotFound = errors.New("coursetasks: module not found in course")

	// ErrUnknownStudent means the submitted student identifier matched
	// no user by email or username.
	ErrUnknownStudent = errors.New("coursetasks: unable to find student")

	// ErrTaskFinished rejects a write that would replace a terminal
	// state with a different one.
	ErrTaskFinished = errors.New("coursetasks: task is already in a terminal state")

	// ErrInputImmutable rejects a write that would change a record's
	// input after creation.
	ErrInputImmutable = errors.New("coursetasks: task input cannot change after creation")

	// ErrMissingRecord means no task record exists for the given id.
	ErrMissingRecord = errors.New("coursetasks: task record not found")
)

// TaskIDMismatchError is returned by the runner when the engine-
// reported task id does not match the id stored on the record. It
// guards against a stale or replayed delivery running against the
// wrong reservation.
type TaskIDMismatchError struct {
	Expected string
	Actual   string
}

func (e *TaskIDMismatchError) Error() string {
	return fmt.Sprintf("coursetasks: requested task did not match actual task (expected %q, got %q)", e.Expected, e.Actual)
}
