//go:build unix

package proc

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Kill delivers sig to the process with the given pid. With KillChildren
// the signal goes to the target's whole process group instead, which only
// works as intended when the target was spawned as a group leader.
//
// Non-positive pids are rejected as KillNoProcess rather than being passed
// to the OS, where they would address the caller's own group.
func Kill(pid int, sig syscall.Signal, flags KillFlags) KillResult {
	if pid <= 0 {
		return KillNoProcess
	}

	target := pid
	if flags&KillChildren != 0 {
		target = -pid
	}
	return classifyKill(unix.Kill(target, sig))
}

// classifyKill maps a kill(2) errno onto the KillResult taxonomy.
func classifyKill(err error) KillResult {
	switch {
	case err == nil:
		return KillOK
	case errors.Is(err, unix.EINVAL):
		return KillBadSignal
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return KillAccessDenied
	case errors.Is(err, unix.ESRCH):
		return KillNoProcess
	default:
		return KillError
	}
}

// Exists reports whether a process with the given pid currently exists,
// probed with a null signal. Permission failures are reported as absence.
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// groupAttr returns the attributes that make a child the leader of a new
// process group.
func groupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// applyPriority maps the priority hint onto the OS nice range and applies
// it best-effort. Zero means "leave the child at the parent's priority",
// so a zero-value spec never renices. Raising priority above the default
// typically needs privileges; failures are ignored.
func applyPriority(pid int, priority uint) {
	if priority == 0 || priority == PriorityDefault {
		return
	}
	if priority > PriorityMax {
		priority = PriorityMax
	}
	nice := (int(PriorityDefault) - int(priority)) * 19 / int(PriorityDefault)
	_ = unix.Setpriority(unix.PRIO_PROCESS, pid, nice)
}

// SignalName returns the conventional name for a signal, such as
// "SIGTERM", falling back to the numeric form for unnamed signals.
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", int(sig))
}

// SignalByName resolves names such as "term", "TERM" or "SIGKILL" to a
// signal.
func SignalByName(name string) (syscall.Signal, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return 0, false
	}
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, false
	}
	return sig, true
}
