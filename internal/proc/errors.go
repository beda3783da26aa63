package proc

import "errors"

// Sentinel errors for the process controller.
var (
	// ErrAlreadyBound is returned when a handle that already started a
	// process is configured or started again.
	ErrAlreadyBound = errors.New("handle is already bound to a process")

	// ErrPriorityRange is returned when a priority outside 0..100 is set.
	ErrPriorityRange = errors.New("priority out of range")

	// ErrEmptyCommand is returned when a launch spec has no argv.
	ErrEmptyCommand = errors.New("command is empty")

	// ErrNilHandle is returned when Start is given a nil handle.
	ErrNilHandle = errors.New("handle is nil")

	// ErrLauncherClosed is returned when spawning through a launcher that
	// has been shut down.
	ErrLauncherClosed = errors.New("launcher is closed")
)
