// Package proc provides asynchronous child process control for procbus.
//
// The package is built around two types. A Handle represents one child
// process slot: it is configured before spawning, bound to a pid when the
// child starts, and delivers exactly one termination notification when the
// child exits. The Launcher spawns children, tracks live handles by pid
// and drives each handle's termination pipeline.
//
// # Launching
//
//	launcher := proc.NewLauncher()
//	defer launcher.Shutdown(5 * time.Second)
//
//	h := proc.NewHandle()
//	h.SetNotifier(proc.NotifierFunc(func(pid int, st proc.ExitStatus) {
//	    fmt.Printf("pid %d: %s\n", pid, st)
//	}))
//	if err := launcher.Start(proc.LaunchSpec{Command: []string{"make", "all"}}, h); err != nil {
//	    log.Fatal(err)
//	}
//	<-h.Done()
//
// Run is the synchronous form: it blocks until the child exits and returns
// its exit code.
//
// # Redirection
//
// A handle with Redirect called before Start gets its child's stdio wired
// to pipes. InputStream and ErrorStream read the child's stdout and stderr
// through pumped buffers, so the child never stalls on an unread pipe;
// OutputStream writes to the child's stdin and CloseOutput signals end of
// input. Output produced before exit stays readable after the child is
// gone. Open is the shorthand that spawns with all three streams attached.
//
// # Ownership
//
// Handles are tracked by the launcher from Start until shortly after the
// termination notification. Detach hands a handle's cleanup to the
// launcher: once its notification has fired the pipes are released
// automatically and the creator must not touch the handle again.
//
// # Signals
//
// Kill delivers a signal to an arbitrary pid and classifies the outcome
// (KillOK, KillNoProcess, KillAccessDenied, KillBadSignal, KillError).
// Exists probes whether a pid is currently alive. Both also exist on the
// Launcher, routed through its Spawner so tests can intercept them.
//
// All exported types are safe for concurrent use.
package proc
