package proc

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for termination notification")
	}
}

// recordingSink collects lifecycle callbacks for assertions.
type recordingSink struct {
	mu       sync.Mutex
	spawned  []string
	exited   []ExitStatus
	detached []int
}

func (s *recordingSink) ProcessSpawned(h *Handle, command []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawned = append(s.spawned, h.ID())
}

func (s *recordingSink) ProcessExited(h *Handle, status ExitStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exited = append(s.exited, status)
}

func (s *recordingSink) ProcessDetached(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = append(s.detached, h.Pid())
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawned), len(s.exited)
}

func (s *recordingSink) detachedPids() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.detached...)
}

func TestLauncher_LaunchAndNotify(t *testing.T) {
	l := NewLauncher()

	var (
		mu       sync.Mutex
		notified []ExitStatus
	)
	h := NewHandle()
	h.SetNotifier(NotifierFunc(func(pid int, status ExitStatus) {
		mu.Lock()
		notified = append(notified, status)
		mu.Unlock()
	}))

	if err := l.Start(LaunchSpec{Command: []string{"echo", "hi"}}, h); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if h.Pid() <= 0 {
		t.Errorf("Pid() = %d, want positive", h.Pid())
	}
	waitDone(t, h)

	if h.State() != StateExited {
		t.Errorf("State() = %v, want StateExited", h.State())
	}
	if h.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d, want 0", h.ExitCode())
	}
	mu.Lock()
	n := len(notified)
	mu.Unlock()
	if n != 1 {
		t.Errorf("notifier fired %d times, want 1", n)
	}

	waitFor(t, func() bool { return l.Count() == 0 }, "handle still tracked")
}

func TestLauncher_ExitCode(t *testing.T) {
	l := NewLauncher()

	h, err := l.Launch(LaunchSpec{Command: []string{"sh", "-c", "exit 42"}})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	waitDone(t, h)

	if h.ExitCode() != 42 {
		t.Errorf("ExitCode() = %d, want 42", h.ExitCode())
	}
	status, ok := h.ExitStatus()
	if !ok || status.Code != 42 || status.Signaled {
		t.Errorf("ExitStatus() = %+v, %v; want code 42", status, ok)
	}
}

func TestLauncher_PriorityRecordedAcrossStart(t *testing.T) {
	l := NewLauncher()

	h := NewHandle()
	if err := h.SetPriority(75); err != nil {
		t.Fatalf("SetPriority() error: %v", err)
	}
	if err := l.Start(LaunchSpec{Command: []string{"echo", "hi"}}, h); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, h)

	// The hint survives the spawn even when the OS does not honor it.
	if h.Priority() != 75 {
		t.Errorf("Priority() = %d, want 75", h.Priority())
	}
}

func TestLauncher_SignaledChild(t *testing.T) {
	l := NewLauncher()

	h, err := l.Launch(LaunchSpec{Command: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	if r := l.Kill(h.Pid(), syscall.SIGTERM, KillNoChildren); r != KillOK {
		t.Fatalf("Kill() = %v, want KillOK", r)
	}
	waitDone(t, h)

	if h.State() != StateKilled {
		t.Errorf("State() = %v, want StateKilled", h.State())
	}
	if h.ExitCode() != -1 {
		t.Errorf("ExitCode() = %d, want -1 for signaled child", h.ExitCode())
	}
	status, _ := h.ExitStatus()
	if !status.Signaled || status.Signal != syscall.SIGTERM {
		t.Errorf("ExitStatus() = %+v, want SIGTERM termination", status)
	}
}

func TestLauncher_RedirectCapturesOutput(t *testing.T) {
	l := NewLauncher()

	h := NewHandle()
	h.Redirect()
	if err := l.Start(LaunchSpec{Command: []string{"echo", "hello"}}, h); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, h)

	// The child is gone; its buffered output must still be readable.
	data, err := io.ReadAll(h.InputStream())
	if err != nil {
		t.Fatalf("ReadAll(stdout) error: %v", err)
	}
	if got := string(data); got != "hello\n" {
		t.Errorf("stdout = %q, want %q", got, "hello\n")
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestLauncher_OpenRoundTrip(t *testing.T) {
	l := NewLauncher()

	h, err := l.Open("cat")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if !h.IsRedirected() {
		t.Error("Open() handle not redirected")
	}
	if !h.IsInputOpened() {
		t.Error("IsInputOpened() = false right after Open")
	}

	if _, err := io.WriteString(h.OutputStream(), "ping\n"); err != nil {
		t.Fatalf("write to stdin: %v", err)
	}
	h.CloseOutput()
	h.CloseOutput() // safe to repeat

	waitDone(t, h)
	waitFor(t, func() bool { return h.IsInputAvailable() }, "no echoed data")

	data, err := io.ReadAll(h.InputStream())
	if err != nil {
		t.Fatalf("ReadAll(stdout) error: %v", err)
	}
	if got := string(data); got != "ping\n" {
		t.Errorf("stdout = %q, want %q", got, "ping\n")
	}
	if h.OutputStream() != nil {
		t.Error("OutputStream() non-nil after CloseOutput")
	}
	_ = h.Close()
}

func TestLauncher_NoRedirectNilStreams(t *testing.T) {
	l := NewLauncher()

	h, err := l.Launch(LaunchSpec{Command: []string{"echo", "quiet"}})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	waitDone(t, h)

	if h.InputStream() != nil || h.ErrorStream() != nil || h.OutputStream() != nil {
		t.Error("streams non-nil without redirection")
	}
	if h.IsInputOpened() || h.IsInputAvailable() || h.IsErrorAvailable() {
		t.Error("stream probes true without redirection")
	}
}

func TestLauncher_DetachedAutoClose(t *testing.T) {
	l := NewLauncher()

	h := NewHandle()
	h.Redirect()
	if err := l.Start(LaunchSpec{Command: []string{"echo", "bye"}}, h); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	h.Detach()
	if !h.IsDetached() {
		t.Error("IsDetached() = false after Detach")
	}
	waitDone(t, h)

	// Pipe resources are released by the termination pipeline.
	waitFor(t, func() bool { return h.InputStream() == nil }, "pipes not released")
}

func TestLauncher_DetachSinkCallback(t *testing.T) {
	sink := &recordingSink{}
	l := NewLauncher(WithSink(sink))

	h, err := l.Launch(LaunchSpec{Command: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	pid := h.Pid()

	h.Detach()
	h.Detach()

	if pids := sink.detachedPids(); len(pids) != 1 || pids[0] != pid {
		t.Errorf("detach callbacks = %v, want exactly one for pid %d", pids, pid)
	}

	l.Kill(pid, syscall.SIGKILL, KillNoChildren)
	waitDone(t, h)
}

func TestLauncher_StartUsedHandle(t *testing.T) {
	l := NewLauncher()

	h, err := l.Launch(LaunchSpec{Command: []string{"echo", "once"}})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	waitDone(t, h)

	err = l.Start(LaunchSpec{Command: []string{"echo", "twice"}}, h)
	if !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("Start(used handle) error = %v, want ErrAlreadyBound", err)
	}
	waitFor(t, func() bool { return l.Count() == 0 }, "stray handle tracked")
}

func TestLauncher_StartNilHandle(t *testing.T) {
	l := NewLauncher()
	if err := l.Start(LaunchSpec{Command: []string{"true"}}, nil); !errors.Is(err, ErrNilHandle) {
		t.Errorf("Start(nil) error = %v, want ErrNilHandle", err)
	}
}

func TestLauncher_SpawnFailure(t *testing.T) {
	l := NewLauncher()

	h := NewHandle()
	err := l.Start(LaunchSpec{Command: []string{"/nonexistent/launcher-test-binary"}}, h)
	if err == nil {
		t.Fatal("Start() succeeded for a nonexistent binary")
	}
	if h.State() != StateCreated {
		t.Errorf("State() = %v after failed spawn, want StateCreated", h.State())
	}
	if h.Pid() != UnknownPid {
		t.Errorf("Pid() = %d after failed spawn, want UnknownPid", h.Pid())
	}
	if l.Count() != 0 {
		t.Errorf("Count() = %d after failed spawn, want 0", l.Count())
	}
}

func TestLauncher_SinkReceivesEvents(t *testing.T) {
	sink := &recordingSink{}
	l := NewLauncher(WithSink(sink))

	h, err := l.Launch(LaunchSpec{Command: []string{"echo", "evt"}})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	waitDone(t, h)
	waitFor(t, func() bool {
		s, e := sink.counts()
		return s == 1 && e == 1
	}, "sink callbacks missing")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.spawned[0] != h.ID() {
		t.Errorf("spawned handle id = %q, want %q", sink.spawned[0], h.ID())
	}
	if sink.exited[0].Code != 0 {
		t.Errorf("exited status = %+v, want code 0", sink.exited[0])
	}
}

func TestLauncher_Run(t *testing.T) {
	l := NewLauncher()

	code, err := l.Run(context.Background(), LaunchSpec{Command: []string{"sh", "-c", "exit 7"}})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if code != 7 {
		t.Errorf("Run() = %d, want 7", code)
	}
}

func TestLauncher_RunContextCancel(t *testing.T) {
	l := NewLauncher()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	code, err := l.Run(ctx, LaunchSpec{Command: []string{"sleep", "30"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want DeadlineExceeded", err)
	}
	if code != -1 {
		t.Errorf("Run() = %d, want -1", code)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %s, child not killed promptly", elapsed)
	}
}

func TestLauncher_Shutdown(t *testing.T) {
	l := NewLauncher()

	var handles []*Handle
	for i := 0; i < 2; i++ {
		h, err := l.Launch(LaunchSpec{Command: []string{"sleep", "30"}})
		if err != nil {
			t.Fatalf("Launch() error: %v", err)
		}
		handles = append(handles, h)
	}
	if l.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", l.Count())
	}

	l.Shutdown(2 * time.Second)

	for _, h := range handles {
		if !h.State().Terminal() {
			t.Errorf("handle %d state = %v, want terminal", h.Pid(), h.State())
		}
	}
	if l.Count() != 0 {
		t.Errorf("Count() = %d after Shutdown, want 0", l.Count())
	}

	// Repeat is a no-op.
	l.Shutdown(time.Second)
}

func TestLauncher_StartAfterShutdown(t *testing.T) {
	l := NewLauncher()
	l.Shutdown(time.Second)

	if _, err := l.Launch(LaunchSpec{Command: []string{"true"}}); !errors.Is(err, ErrLauncherClosed) {
		t.Errorf("Launch() error = %v, want ErrLauncherClosed", err)
	}
	if _, err := l.Run(context.Background(), LaunchSpec{Command: []string{"true"}}); !errors.Is(err, ErrLauncherClosed) {
		t.Errorf("Run() error = %v, want ErrLauncherClosed", err)
	}
}

func TestLauncher_FindAndLive(t *testing.T) {
	l := NewLauncher()

	h, err := l.Launch(LaunchSpec{Command: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	found, ok := l.Find(h.Pid())
	if !ok || found != h {
		t.Errorf("Find(%d) = %v, %v; want the launched handle", h.Pid(), found, ok)
	}
	if live := l.Live(); len(live) != 1 || live[0] != h {
		t.Errorf("Live() = %v, want the launched handle", live)
	}
	if !l.Exists(h.Pid()) {
		t.Errorf("Exists(%d) = false for a live child", h.Pid())
	}

	l.Kill(h.Pid(), syscall.SIGKILL, KillNoChildren)
	waitDone(t, h)
	waitFor(t, func() bool {
		_, ok := l.Find(h.Pid())
		return !ok
	}, "terminated handle still findable")
}

// fgSpawner wraps the OS spawner with a foreground hook that succeeds.
type fgSpawner struct {
	Spawner
}

func (fgSpawner) BringToForeground(pid int) bool { return true }

func TestLauncher_Activate(t *testing.T) {
	l := NewLauncher(WithSpawner(fgSpawner{NewSpawner()}))

	h, err := l.Launch(LaunchSpec{Command: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	defer func() {
		l.Kill(h.Pid(), syscall.SIGKILL, KillNoChildren)
		waitDone(t, h)
	}()

	if !h.Activate() {
		t.Error("Activate() = false with a foreground-capable spawner")
	}
}

func TestLauncher_ActivateDefaultFalse(t *testing.T) {
	l := NewLauncher()

	h, err := l.Launch(LaunchSpec{Command: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	defer func() {
		l.Kill(h.Pid(), syscall.SIGKILL, KillNoChildren)
		waitDone(t, h)
	}()

	if h.Activate() {
		t.Error("Activate() = true, want false on this platform")
	}
}

func TestLauncher_StderrStream(t *testing.T) {
	l := NewLauncher()

	h := NewHandle()
	h.Redirect()
	err := l.Start(LaunchSpec{Command: []string{"sh", "-c", "echo oops >&2"}}, h)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, h)
	waitFor(t, func() bool { return h.IsErrorAvailable() }, "no stderr data")

	data, err := io.ReadAll(h.ErrorStream())
	if err != nil {
		t.Fatalf("ReadAll(stderr) error: %v", err)
	}
	if !strings.Contains(string(data), "oops") {
		t.Errorf("stderr = %q, want it to contain %q", data, "oops")
	}
	_ = h.Close()
}
