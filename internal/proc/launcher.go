package proc

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/dshills/procbus/internal/logging"
)

// EventSink receives lifecycle callbacks from the launcher. The runtime
// wires these to the event bus and the journal; tests record them.
type EventSink interface {
	// ProcessSpawned is called after a child has started and its handle
	// is tracked.
	ProcessSpawned(h *Handle, command []string)

	// ProcessExited is called after the handle's termination notification
	// has fired, before the handle is untracked.
	ProcessExited(h *Handle, status ExitStatus)

	// ProcessDetached is called when the owner hands a still-running
	// child's handle over to the runtime.
	ProcessDetached(h *Handle)
}

type nopSink struct{}

func (nopSink) ProcessSpawned(*Handle, []string)  {}
func (nopSink) ProcessExited(*Handle, ExitStatus) {}
func (nopSink) ProcessDetached(*Handle)           {}

// Launcher spawns child processes, tracks live handles by pid and drives
// each handle's one-shot termination pipeline when its child exits.
type Launcher struct {
	spawner   Spawner
	sink      EventSink
	log       *logging.Logger
	streamBuf int

	mu     sync.RWMutex
	byPid  map[int]*Handle
	closed bool

	wg sync.WaitGroup
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithSpawner replaces the OS-backed spawner.
func WithSpawner(s Spawner) Option {
	return func(l *Launcher) {
		if s != nil {
			l.spawner = s
		}
	}
}

// WithSink installs the lifecycle event sink.
func WithSink(s EventSink) Option {
	return func(l *Launcher) {
		if s != nil {
			l.sink = s
		}
	}
}

// WithLogger sets the launcher's logger.
func WithLogger(log *logging.Logger) Option {
	return func(l *Launcher) {
		if log != nil {
			l.log = log
		}
	}
}

// WithStreamBuffer sets the per-pipe buffer cap in bytes.
func WithStreamBuffer(n int) Option {
	return func(l *Launcher) {
		if n > 0 {
			l.streamBuf = n
		}
	}
}

// NewLauncher creates a launcher. Without options it uses the OS spawner,
// a discard logger and no sink.
func NewLauncher(opts ...Option) *Launcher {
	l := &Launcher{
		spawner:   NewSpawner(),
		sink:      nopSink{},
		log:       logging.Discard,
		streamBuf: defaultStreamBuffer,
		byPid:     make(map[int]*Handle),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start spawns the child described by spec and binds it to h, honoring the
// handle's pre-spawn configuration (priority, redirection request). On
// success the handle is tracked until its termination notification has
// fired.
func (l *Launcher) Start(spec LaunchSpec, h *Handle) error {
	if h == nil {
		return ErrNilHandle
	}

	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrLauncherClosed
	}

	redirect := h.IsRedirected()
	spec.Priority = h.Priority()

	child, err := l.spawner.Spawn(spec, redirect)
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}

	if err := h.bind(child.Pid, spec.NewProcessGroup, l.spawner.BringToForeground); err != nil {
		// The handle was already used; reap the fresh child instead of
		// leaking it untracked.
		l.spawner.Signal(child.Pid, syscall.SIGKILL, KillNoChildren)
		closeChildPipes(child)
		go func() { <-child.Exit }()
		return err
	}

	if redirect {
		var stdout, stderr *ReadStream
		if child.Stdout != nil {
			stdout = newReadStream(child.Stdout, l.streamBuf)
		}
		if child.Stderr != nil {
			stderr = newReadStream(child.Stderr, l.streamBuf)
		}
		h.installPipes(stdout, stderr, child.Stdin)
	}

	h.setOnDetach(func() { l.sink.ProcessDetached(h) })

	l.mu.Lock()
	l.byPid[child.Pid] = h
	l.mu.Unlock()

	l.log.WithField("pid", child.Pid).Debug("started %s", spec.Command[0])
	l.sink.ProcessSpawned(h, spec.Command)

	l.wg.Add(1)
	go l.monitor(h, child)

	return nil
}

// Launch creates a fresh handle and starts the child on it.
func (l *Launcher) Launch(spec LaunchSpec) (*Handle, error) {
	h := NewHandle()
	if err := l.Start(spec, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Open starts the child with full stdio redirection, for callers that want
// to talk to it over pipes. The returned handle stays tracked by the
// launcher until the child exits; the caller closes it after draining the
// streams, and must not otherwise manage the child's lifetime.
func (l *Launcher) Open(command ...string) (*Handle, error) {
	h := NewHandle()
	h.Redirect()
	if err := l.Start(LaunchSpec{Command: command}, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Run spawns the child and blocks until it exits, returning its exit
// code. The code is -1 when the child was terminated by a signal. When ctx
// is cancelled the child is killed and Run returns the context error.
func (l *Launcher) Run(ctx context.Context, spec LaunchSpec) (int, error) {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return -1, ErrLauncherClosed
	}

	child, err := l.spawner.Spawn(spec, false)
	if err != nil {
		return -1, fmt.Errorf("spawn: %w", err)
	}

	select {
	case status := <-child.Exit:
		return status.Code, nil
	case <-ctx.Done():
		flags := KillNoChildren
		if spec.NewProcessGroup {
			flags = KillChildren
		}
		l.spawner.Signal(child.Pid, syscall.SIGKILL, flags)
		<-child.Exit
		return -1, ctx.Err()
	}
}

// Kill delivers a signal through the launcher's spawner.
func (l *Launcher) Kill(pid int, sig syscall.Signal, flags KillFlags) KillResult {
	return l.spawner.Signal(pid, sig, flags)
}

// Exists probes the launcher's spawner for a live pid.
func (l *Launcher) Exists(pid int) bool {
	return l.spawner.ProbeExists(pid)
}

// Find returns the tracked handle for a pid. Handles are tracked from a
// successful Start until shortly after their termination notification.
func (l *Launcher) Find(pid int) (*Handle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.byPid[pid]
	return h, ok
}

// Live returns the currently tracked handles.
func (l *Launcher) Live() []*Handle {
	l.mu.RLock()
	defer l.mu.RUnlock()

	handles := make([]*Handle, 0, len(l.byPid))
	for _, h := range l.byPid {
		handles = append(handles, h)
	}
	return handles
}

// Count returns the number of tracked handles.
func (l *Launcher) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byPid)
}

// Shutdown stops accepting new work, asks every live child to terminate
// and waits up to grace for their notifications. Children still alive
// after grace are killed. Shutdown returns once every termination pipeline
// has finished; repeated calls are no-ops.
func (l *Launcher) Shutdown(grace time.Duration) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	live := make([]*Handle, 0, len(l.byPid))
	for _, h := range l.byPid {
		live = append(live, h)
	}
	l.mu.Unlock()

	for _, h := range live {
		l.signalHandle(h, syscall.SIGTERM)
	}

	deadline := time.Now().Add(grace)
	for _, h := range live {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		select {
		case <-h.Done():
		case <-time.After(remaining):
		}
	}

	l.mu.RLock()
	stragglers := make([]*Handle, 0, len(l.byPid))
	for _, h := range l.byPid {
		stragglers = append(stragglers, h)
	}
	l.mu.RUnlock()
	for _, h := range stragglers {
		l.signalHandle(h, syscall.SIGKILL)
	}

	l.wg.Wait()
}

// signalHandle signals a handle's child, targeting its process group when
// the child was spawned as a leader.
func (l *Launcher) signalHandle(h *Handle, sig syscall.Signal) {
	if !h.IsRunning() {
		return
	}
	flags := KillNoChildren
	if h.isGroup() {
		flags = KillChildren
	}
	l.spawner.Signal(h.Pid(), sig, flags)
}

// monitor waits for the child's exit and drives the termination pipeline:
// record status and notify, publish to the sink, untrack, and release
// resources when the handle is detached.
func (l *Launcher) monitor(h *Handle, child *SpawnedChild) {
	defer l.wg.Done()

	status := <-child.Exit

	h.finish(status)

	l.log.WithField("pid", h.Pid()).Debug("%s after %s", status, h.Runtime().Round(time.Millisecond))
	l.sink.ProcessExited(h, status)

	l.mu.Lock()
	delete(l.byPid, h.Pid())
	l.mu.Unlock()

	if h.IsDetached() {
		_ = h.Close()
	}
}
