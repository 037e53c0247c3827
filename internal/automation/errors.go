package automation

import "errors"

// Domain errors for the automation package.
var (
	// ErrNoSteps is returned when a goal has no steps to run.
	ErrNoSteps = errors.New("automation: goal has no steps")

	// ErrNoDevice is returned when a goal names no device and none can be selected.
	ErrNoDevice = errors.New("automation: no target device")

	// ErrUnknownAction is returned when a step's action is not in the command vocabulary.
	ErrUnknownAction = errors.New("automation: unknown action")
)
