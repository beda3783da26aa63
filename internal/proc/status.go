package proc

import (
	"strconv"
	"syscall"
)

// UnknownPid is reported by Handle.Pid before the handle is bound to a
// child process.
const UnknownPid = -1

// Scheduling priority hints, mapped onto the OS scheduler at spawn time.
const (
	// PriorityMin is the lowest scheduling priority.
	PriorityMin uint = 0

	// PriorityDefault is the normal scheduling priority.
	PriorityDefault uint = 50

	// PriorityMax is the highest scheduling priority.
	PriorityMax uint = 100
)

// State tracks a handle through the child process lifecycle.
type State int32

const (
	// StateCreated means the handle exists but is not yet bound to a
	// process.
	StateCreated State = iota

	// StateRunning means the child process is alive.
	StateRunning

	// StateExited means the child exited on its own.
	StateExited

	// StateKilled means the child was terminated by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Terminal returns true once the child has terminated.
func (s State) Terminal() bool {
	return s == StateExited || s == StateKilled
}

// ExitStatus describes how a child process terminated.
type ExitStatus struct {
	// Code is the child's exit code, or -1 when the child was terminated
	// by a signal or the status could not be determined.
	Code int

	// Signaled is true when the child was terminated by a signal.
	Signaled bool

	// Signal is the terminating signal, valid when Signaled is true.
	Signal syscall.Signal
}

// String returns a short description such as "exit 0" or "signal: killed".
func (st ExitStatus) String() string {
	if st.Signaled {
		return "signal: " + st.Signal.String()
	}
	return "exit " + strconv.Itoa(st.Code)
}

// KillFlags modifies how Kill delivers a signal.
type KillFlags int

const (
	// KillNoChildren signals only the target process.
	KillNoChildren KillFlags = 0

	// KillChildren signals the target's whole process group. Meaningful
	// only for children spawned as group leaders.
	KillChildren KillFlags = 1 << 0
)

// KillResult classifies the outcome of a signal delivery.
type KillResult int

const (
	// KillOK means the signal was delivered.
	KillOK KillResult = iota

	// KillBadSignal means the signal number was invalid.
	KillBadSignal

	// KillAccessDenied means the caller lacks permission to signal the
	// target.
	KillAccessDenied

	// KillNoProcess means no process with the given pid exists.
	KillNoProcess

	// KillError means the delivery failed for another reason.
	KillError
)

// String returns a stable result name.
func (r KillResult) String() string {
	switch r {
	case KillOK:
		return "ok"
	case KillBadSignal:
		return "bad-signal"
	case KillAccessDenied:
		return "access-denied"
	case KillNoProcess:
		return "no-process"
	case KillError:
		return "error"
	default:
		return "unknown"
	}
}
