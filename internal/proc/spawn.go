package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// StdioMode selects what a non-redirected child's stdio is attached to.
type StdioMode int

const (
	// StdioNull attaches the child's stdio to the null device.
	StdioNull StdioMode = iota

	// StdioInherit shares the parent's stdio with the child.
	StdioInherit
)

// LaunchSpec describes a child process to spawn.
type LaunchSpec struct {
	// Command is the argv, program first. It must not be empty.
	Command []string

	// Dir is the child's working directory. Empty means inherit.
	Dir string

	// Env lists extra KEY=VALUE entries appended to the parent
	// environment.
	Env []string

	// Stdio selects the child's stdio wiring when the handle does not
	// request redirection.
	Stdio StdioMode

	// NewProcessGroup starts the child as the leader of a new process
	// group, so signals can target the whole tree.
	NewProcessGroup bool

	// Priority is the scheduling hint applied after the spawn, copied
	// from the handle by the launcher. Zero leaves the child at the
	// parent's priority.
	Priority uint
}

// SpawnedChild is the OS-facing result of a successful spawn.
type SpawnedChild struct {
	// Pid is the child's process id.
	Pid int

	// Stdout and Stderr are the parent-side read ends of the child's
	// output pipes, nil when redirection was not requested.
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	// Stdin is the parent-side write end of the child's input pipe, nil
	// when redirection was not requested.
	Stdin io.WriteCloser

	// Exit delivers the child's exit status exactly once, then closes.
	Exit <-chan ExitStatus
}

// Spawner is the launcher's boundary to the operating system. The default
// implementation execs real processes; tests may substitute their own.
type Spawner interface {
	// Spawn starts the child described by spec, wiring stdio pipes when
	// redirect is true.
	Spawn(spec LaunchSpec, redirect bool) (*SpawnedChild, error)

	// Signal delivers sig to pid, or to its whole process group when
	// flags contains KillChildren.
	Signal(pid int, sig syscall.Signal, flags KillFlags) KillResult

	// ProbeExists reports whether a process with the given pid exists.
	ProbeExists(pid int) bool

	// BringToForeground attempts to raise the child's user interface.
	// It returns false when the platform cannot do it.
	BringToForeground(pid int) bool
}

// NewSpawner returns the default OS-backed spawner.
func NewSpawner() Spawner {
	return execSpawner{}
}

// execSpawner is the production Spawner backed by os/exec.
type execSpawner struct{}

func (execSpawner) Spawn(spec LaunchSpec, redirect bool) (*SpawnedChild, error) {
	if len(spec.Command) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if spec.NewProcessGroup {
		cmd.SysProcAttr = groupAttr()
	}

	child := &SpawnedChild{}
	var childEnds []*os.File

	if redirect {
		// Explicit pipes instead of cmd.StdoutPipe, so Wait cannot close
		// the read ends while buffered output is still being drained.
		outR, outW, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		errR, errW, err := os.Pipe()
		if err != nil {
			closeFiles(outR, outW)
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
		inR, inW, err := os.Pipe()
		if err != nil {
			closeFiles(outR, outW, errR, errW)
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}

		cmd.Stdout = outW
		cmd.Stderr = errW
		cmd.Stdin = inR
		child.Stdout = outR
		child.Stderr = errR
		child.Stdin = inW
		childEnds = []*os.File{outW, errW, inR}
	} else if spec.Stdio == StdioInherit {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		closeFiles(childEnds...)
		closeChildPipes(child)
		return nil, fmt.Errorf("start %s: %w", spec.Command[0], err)
	}

	// The child owns its pipe ends now.
	closeFiles(childEnds...)

	child.Pid = cmd.Process.Pid
	applyPriority(child.Pid, spec.Priority)

	exit := make(chan ExitStatus, 1)
	child.Exit = exit
	go func() {
		err := cmd.Wait()
		exit <- decodeWait(err)
		close(exit)
	}()

	return child, nil
}

func (execSpawner) Signal(pid int, sig syscall.Signal, flags KillFlags) KillResult {
	return Kill(pid, sig, flags)
}

func (execSpawner) ProbeExists(pid int) bool {
	return Exists(pid)
}

func (execSpawner) BringToForeground(int) bool {
	return false
}

// decodeWait translates cmd.Wait's result into an ExitStatus.
func decodeWait(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Code: 0}
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return ExitStatus{Code: -1, Signaled: true, Signal: ws.Signal()}
			}
			return ExitStatus{Code: ws.ExitStatus()}
		}
		return ExitStatus{Code: ee.ExitCode()}
	}

	// Wait itself failed; the status is unknowable.
	return ExitStatus{Code: -1}
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

func closeChildPipes(child *SpawnedChild) {
	if child.Stdout != nil {
		_ = child.Stdout.Close()
	}
	if child.Stderr != nil {
		_ = child.Stderr.Close()
	}
	if child.Stdin != nil {
		_ = child.Stdin.Close()
	}
}
