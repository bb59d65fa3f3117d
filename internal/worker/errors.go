package worker

import "errors"

var (
	// ErrClosed is returned when posting to a host that is ending or gone
	ErrClosed = errors.New("worker closed")

	// ErrTimeout wraps requests that exceeded their deadline
	ErrTimeout = errors.New("request timed out")

	// ErrNotOpen is returned when sending on a socket that is not open
	ErrNotOpen = errors.New("socket not open")

	// ErrNoCapability is returned when the host was spawned without the
	// requester or dialer a job needs
	ErrNoCapability = errors.New("capability not provided")

	// ErrContextFault wraps failures that killed an isolated context
	ErrContextFault = errors.New("context fault")

	// ErrUnknownKind is reported when a descriptor names an unregistered job
	ErrUnknownKind = errors.New("unknown job kind")
)
