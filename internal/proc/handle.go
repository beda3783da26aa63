package proc

import (
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Notifier receives the one-shot termination callback for a handle.
type Notifier interface {
	// OnTerminate is called exactly once per spawned child, after the
	// exit status has been recorded on the handle.
	OnTerminate(pid int, status ExitStatus)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(pid int, status ExitStatus)

// OnTerminate implements the Notifier interface.
func (f NotifierFunc) OnTerminate(pid int, status ExitStatus) {
	f(pid, status)
}

// Handle represents one child process slot. It is created unbound,
// configured before spawning (priority, redirection request, notifier),
// bound to a pid when the launcher starts the child, and becomes terminal
// exactly once, when the child exits.
//
// All methods are safe for concurrent use.
type Handle struct {
	id string

	pid      atomic.Int64
	state    atomic.Int32
	priority atomic.Uint32
	redirect atomic.Bool
	detached atomic.Bool
	notified atomic.Bool

	exitCode   atomic.Int32
	signaled   atomic.Bool
	exitSignal atomic.Int32

	done chan struct{}

	mu       sync.RWMutex
	notifier Notifier
	stdout   *ReadStream
	stderr   *ReadStream
	stdin    io.WriteCloser
	fg       func(pid int) bool
	onDetach func()
	group    bool
	started  time.Time
	ended    time.Time
}

// NewHandle creates an unbound handle with the default priority.
func NewHandle() *Handle {
	h := &Handle{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}
	h.pid.Store(UnknownPid)
	h.state.Store(int32(StateCreated))
	h.priority.Store(uint32(PriorityDefault))
	h.exitCode.Store(-1)
	return h
}

// ID returns the unique handle identifier.
func (h *Handle) ID() string {
	return h.id
}

// Pid returns the child's process id, or UnknownPid before the handle is
// bound.
func (h *Handle) Pid() int {
	return int(h.pid.Load())
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// IsRunning reports whether the child is alive.
func (h *Handle) IsRunning() bool {
	return h.State() == StateRunning
}

// Done returns a channel that is closed after the termination notification
// has been delivered.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Priority returns the scheduling hint, from PriorityMin to PriorityMax.
func (h *Handle) Priority() uint {
	return uint(h.priority.Load())
}

// SetPriority sets the scheduling hint for the child. It only takes effect
// before the handle is bound to a process and fails with ErrAlreadyBound
// afterward.
func (h *Handle) SetPriority(p uint) error {
	if p > PriorityMax {
		return ErrPriorityRange
	}
	if h.State() != StateCreated {
		return ErrAlreadyBound
	}
	h.priority.Store(uint32(p))
	return nil
}

// Redirect requests that the child's stdio be piped to this handle. It
// must be called before the handle is bound; calling it afterward has no
// effect.
func (h *Handle) Redirect() {
	if h.State() != StateCreated {
		return
	}
	h.redirect.Store(true)
}

// IsRedirected reports whether stdio redirection was requested.
func (h *Handle) IsRedirected() bool {
	return h.redirect.Load()
}

// Detach hands ownership of the handle to the runtime. A detached handle
// has its pipe resources released automatically after the termination
// notification fires; the caller must not use it afterward. Detaching more
// than once is a no-op.
func (h *Handle) Detach() {
	if !h.detached.CompareAndSwap(false, true) {
		return
	}
	if h.State().Terminal() {
		_ = h.Close()
		return
	}
	h.mu.RLock()
	cb := h.onDetach
	h.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

// IsDetached reports whether the handle has been detached.
func (h *Handle) IsDetached() bool {
	return h.detached.Load()
}

// SetNotifier installs the termination callback, replacing any previous
// one. Installing a notifier after the notification has fired has no
// effect.
func (h *Handle) SetNotifier(n Notifier) {
	h.mu.Lock()
	h.notifier = n
	h.mu.Unlock()
}

// Activate asks the OS to bring the child's user interface to the
// foreground. It returns false when the child is not running or the
// platform has no way to do it.
func (h *Handle) Activate() bool {
	if !h.IsRunning() {
		return false
	}
	h.mu.RLock()
	fg := h.fg
	h.mu.RUnlock()
	if fg == nil {
		return false
	}
	return fg(h.Pid())
}

// ExitStatus returns the recorded exit status. ok is false while the
// child is still running or the handle was never bound.
func (h *Handle) ExitStatus() (status ExitStatus, ok bool) {
	if !h.State().Terminal() {
		return ExitStatus{}, false
	}
	return ExitStatus{
		Code:     int(h.exitCode.Load()),
		Signaled: h.signaled.Load(),
		Signal:   syscall.Signal(h.exitSignal.Load()),
	}, true
}

// ExitCode returns the child's exit code: -1 while running, after a
// signal-termination, or when the handle was never bound.
func (h *Handle) ExitCode() int {
	return int(h.exitCode.Load())
}

// Runtime returns how long the child has been running, or its total
// lifetime once terminal. It returns zero for an unbound handle.
func (h *Handle) Runtime() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.started.IsZero() {
		return 0
	}
	if h.ended.IsZero() {
		return time.Since(h.started)
	}
	return h.ended.Sub(h.started)
}

// InputStream returns the stream connected to the child's stdout, or nil
// when redirection was not requested.
func (h *Handle) InputStream() *ReadStream {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stdout
}

// ErrorStream returns the stream connected to the child's stderr, or nil
// when redirection was not requested.
func (h *Handle) ErrorStream() *ReadStream {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stderr
}

// OutputStream returns the writer connected to the child's stdin, or nil
// when redirection was not requested or the writer has been closed.
func (h *Handle) OutputStream() io.WriteCloser {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stdin
}

// CloseOutput closes the child's stdin, signalling end of input. Calling
// it when no output stream is open is a no-op, so repeated calls are safe.
func (h *Handle) CloseOutput() {
	h.mu.Lock()
	w := h.stdin
	h.stdin = nil
	h.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

// IsInputOpened reports whether the stdout stream exists and its pipe is
// still open.
func (h *Handle) IsInputOpened() bool {
	s := h.InputStream()
	return s != nil && s.Opened()
}

// IsInputAvailable reports whether stdout data can be read without
// blocking. It never blocks.
func (h *Handle) IsInputAvailable() bool {
	s := h.InputStream()
	return s != nil && s.Available() > 0
}

// IsErrorAvailable reports whether stderr data can be read without
// blocking. It never blocks.
func (h *Handle) IsErrorAvailable() bool {
	s := h.ErrorStream()
	return s != nil && s.Available() > 0
}

// Close releases the handle's pipe resources. It is idempotent and safe
// to call concurrently.
func (h *Handle) Close() error {
	h.mu.Lock()
	stdout, stderr, stdin := h.stdout, h.stderr, h.stdin
	h.stdout, h.stderr, h.stdin = nil, nil, nil
	h.mu.Unlock()

	if stdout != nil {
		_ = stdout.Close()
	}
	if stderr != nil {
		_ = stderr.Close()
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	return nil
}

// bind attaches the handle to a freshly spawned child. It fails with
// ErrAlreadyBound when the handle has been used before.
func (h *Handle) bind(pid int, group bool, fg func(int) bool) error {
	if !h.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return ErrAlreadyBound
	}
	h.pid.Store(int64(pid))

	h.mu.Lock()
	h.group = group
	h.fg = fg
	h.started = time.Now()
	h.mu.Unlock()
	return nil
}

// setOnDetach installs the launcher's hand-off callback. Detach only fires
// it for a live child.
func (h *Handle) setOnDetach(fn func()) {
	h.mu.Lock()
	h.onDetach = fn
	h.mu.Unlock()
}

// isGroup reports whether the child leads its own process group.
func (h *Handle) isGroup() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.group
}

// installPipes attaches the redirected stream endpoints. Any of them may
// be nil.
func (h *Handle) installPipes(stdout, stderr *ReadStream, stdin io.WriteCloser) {
	h.mu.Lock()
	h.stdout = stdout
	h.stderr = stderr
	h.stdin = stdin
	h.mu.Unlock()
}

// finish records the exit status, moves the handle to its terminal state
// and fires the termination notification. The notified guard makes the
// whole sequence run at most once; later calls return false and do
// nothing.
func (h *Handle) finish(status ExitStatus) bool {
	if !h.notified.CompareAndSwap(false, true) {
		return false
	}

	h.exitCode.Store(int32(status.Code))
	h.signaled.Store(status.Signaled)
	h.exitSignal.Store(int32(status.Signal))

	h.mu.Lock()
	h.ended = time.Now()
	h.mu.Unlock()

	if status.Signaled {
		h.state.Store(int32(StateKilled))
	} else {
		h.state.Store(int32(StateExited))
	}

	h.mu.RLock()
	n := h.notifier
	h.mu.RUnlock()
	if n != nil {
		func() {
			defer func() { _ = recover() }()
			n.OnTerminate(h.Pid(), status)
		}()
	}

	close(h.done)
	return true
}
