// Package events defines the event topics and payload types published by
// procbus components.
package events

import (
	"time"

	"github.com/dshills/procbus/internal/event"
)

// Process lifecycle topics.
const (
	// TopicProcessSpawned is published after a child process starts.
	TopicProcessSpawned event.Topic = "proc.spawned"

	// TopicProcessExited is published when a child process terminates.
	// Delivery is exactly once per spawned child.
	TopicProcessExited event.Topic = "proc.exited"

	// TopicProcessKilled is published when a signal is delivered through
	// the kill API.
	TopicProcessKilled event.Topic = "proc.killed"

	// TopicProcessDetached is published when an owner hands a running
	// child's handle over to the runtime.
	TopicProcessDetached event.Topic = "proc.detached"

	// TopicProcessOutput is published for each redirected output line
	// forwarded to the bus.
	TopicProcessOutput event.Topic = "proc.output"
)

// ProcessSpawned is the payload for TopicProcessSpawned.
type ProcessSpawned struct {
	// Pid is the operating system process id.
	Pid int

	// HandleID is the controller handle identifier.
	HandleID string

	// Command is the argv used to start the child.
	Command []string

	// Redirected is true when the child's stdio is piped to the handle.
	Redirected bool

	// Priority is the scheduling hint the child was started with (0 lowest,
	// 100 highest).
	Priority uint

	// Start is when the child was spawned.
	Start time.Time
}

// ProcessExited is the payload for TopicProcessExited.
type ProcessExited struct {
	// Pid is the operating system process id the child had.
	Pid int

	// HandleID is the controller handle identifier.
	HandleID string

	// ExitCode is the child's exit status, or -1 if it was terminated by a
	// signal.
	ExitCode int

	// Signaled is true when the child was terminated by a signal.
	Signaled bool

	// Signal is the name of the terminating signal when Signaled is true.
	Signal string

	// Runtime is how long the child ran.
	Runtime time.Duration
}

// ProcessKilled is the payload for TopicProcessKilled.
type ProcessKilled struct {
	// Pid is the target process id.
	Pid int

	// Signal is the name of the delivered signal.
	Signal string

	// Children is true when the signal was sent to the whole process group.
	Children bool

	// Result describes the delivery outcome ("ok", "no-process",
	// "access-denied", "bad-signal", "error").
	Result string
}

// ProcessDetached is the payload for TopicProcessDetached.
type ProcessDetached struct {
	// Pid is the detached child's process id.
	Pid int

	// HandleID is the controller handle identifier.
	HandleID string
}

// ProcessOutput is the payload for TopicProcessOutput.
type ProcessOutput struct {
	// Pid is the producing process id.
	Pid int

	// HandleID is the controller handle identifier.
	HandleID string

	// Stderr is true when the line came from the child's stderr.
	Stderr bool

	// Line is a single line of output without the trailing newline.
	Line string
}
