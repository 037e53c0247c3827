package dispatch

import "errors"

// Domain errors for the dispatch package.
var (
	// ErrUnknownTask is returned when a result names a task that was never dispatched.
	ErrUnknownTask = errors.New("dispatch: unknown task")

	// ErrNotTaskOwner is returned when a device reports a result for a task
	// dispatched to a different device.
	ErrNotTaskOwner = errors.New("dispatch: task belongs to another device")

	// ErrAwaitTimeout is returned when no result arrived before the deadline.
	// The task's outcome is unknown, not failed; the device may still run it.
	ErrAwaitTimeout = errors.New("dispatch: timed out waiting for result")

	// ErrInvalidCommand is returned when a dispatch request has no command.
	ErrInvalidCommand = errors.New("dispatch: command is required")
)
