package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrQueueFull is returned when a device's offline queue is at capacity.
	ErrQueueFull = errors.New("transport: device queue full")

	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("transport: session closed")
)
