package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/dshills/procbus/internal/app"
	"github.com/dshills/procbus/internal/proc"
)

// globalOpts holds the runtime flags shared by every subcommand.
type globalOpts struct {
	configPath  string
	logLevel    string
	journalPath string
	quiet       bool
}

// addRuntimeFlags registers the shared runtime flags on a subcommand's
// flag set.
func addRuntimeFlags(fs *flag.FlagSet, g *globalOpts) {
	fs.StringVar(&g.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&g.configPath, "c", "", "Path to configuration file (shorthand)")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&g.journalPath, "journal", "", "Append lifecycle records to this JSONL file")
	fs.BoolVar(&g.quiet, "quiet", false, "Disable logging")
	fs.BoolVar(&g.quiet, "q", false, "Disable logging (shorthand)")
}

// newRuntime builds a runtime from the shared flags.
func newRuntime(g *globalOpts) (*app.Runtime, error) {
	switch g.logLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", g.logLevel)
	}
	return app.New(app.Options{
		ConfigPath:  g.configPath,
		LogLevel:    g.logLevel,
		JournalPath: g.journalPath,
		Quiet:       g.quiet,
	})
}

func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	return 1
}

// envFlags collects repeated -env KEY=VALUE flags.
type envFlags []string

func (e *envFlags) String() string {
	return strings.Join(*e, ",")
}

func (e *envFlags) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected KEY=VALUE, got %q", v)
	}
	*e = append(*e, v)
	return nil
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var g globalOpts
	addRuntimeFlags(fs, &g)
	var (
		redirect = fs.Bool("redirect", false, "Pipe the child's stdio and echo its output")
		syncRun  = fs.Bool("sync", false, "Block until the child exits, with inherited stdio")
		dir      = fs.String("dir", "", "Working directory for the child")
		priority = fs.Uint("priority", uint(proc.PriorityDefault), "Scheduling hint, 0 (idle) to 100 (highest)")
		group    = fs.Bool("group", false, "Start the child in its own process group")
		timeout  = fs.Duration("timeout", 0, "Kill the child after this long (sync only, 0 means no limit)")
	)
	var env envFlags
	fs.Var(&env, "env", "Extra KEY=VALUE for the child environment (repeatable)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: procbus run [options] -- command [args...]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	command := fs.Args()
	if len(command) == 0 {
		fs.Usage()
		return 2
	}
	if *priority > uint(proc.PriorityMax) {
		return fail("priority must be between %d and %d", proc.PriorityMin, proc.PriorityMax)
	}

	rt, err := newRuntime(&g)
	if err != nil {
		return fail("%v", err)
	}
	defer rt.Shutdown()

	spec := proc.LaunchSpec{
		Command:         command,
		Dir:             *dir,
		Env:             []string(env),
		NewProcessGroup: *group,
		Priority:        *priority,
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if *syncRun {
		ctx := context.Background()
		if *timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, *timeout)
			defer cancel()
		}
		ctx, cancelRun := context.WithCancel(ctx)
		defer cancelRun()
		go func() {
			<-signals
			cancelRun()
		}()

		spec.Stdio = proc.StdioInherit
		code, err := rt.Run(ctx, spec)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return fail("timed out after %s", *timeout)
		case errors.Is(err, context.Canceled):
			return 130
		case err != nil:
			return fail("%v", err)
		}
		if code < 0 {
			return 1
		}
		return code
	}

	h := proc.NewHandle()
	if err := h.SetPriority(*priority); err != nil {
		return fail("%v", err)
	}
	if *redirect {
		h.Redirect()
	} else {
		spec.Stdio = proc.StdioInherit
	}
	if err := rt.Start(spec, h); err != nil {
		return fail("%v", err)
	}

	go func() {
		<-signals
		rt.Shutdown()
	}()

	var pumps sync.WaitGroup
	if *redirect {
		h.CloseOutput()
		pumps.Add(2)
		go func() {
			defer pumps.Done()
			_, _ = io.Copy(os.Stdout, h.InputStream())
		}()
		go func() {
			defer pumps.Done()
			_, _ = io.Copy(os.Stderr, h.ErrorStream())
		}()
	}

	<-h.Done()
	pumps.Wait()

	status, _ := h.ExitStatus()
	if status.Signaled {
		return 128 + int(status.Signal)
	}
	return status.Code
}

func cmdOpen(args []string) int {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	var g globalOpts
	addRuntimeFlags(fs, &g)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: procbus open [options] -- command [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Feeds stdin to the child and echoes its stdout and stderr.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	command := fs.Args()
	if len(command) == 0 {
		fs.Usage()
		return 2
	}

	rt, err := newRuntime(&g)
	if err != nil {
		return fail("%v", err)
	}
	defer rt.Shutdown()

	h, err := rt.Open(command...)
	if err != nil {
		return fail("%v", err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		rt.Shutdown()
	}()

	go func() {
		if w := h.OutputStream(); w != nil {
			_, _ = io.Copy(w, os.Stdin)
		}
		h.CloseOutput()
	}()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		_, _ = io.Copy(os.Stdout, h.InputStream())
	}()
	go func() {
		defer pumps.Done()
		_, _ = io.Copy(os.Stderr, h.ErrorStream())
	}()

	<-h.Done()
	pumps.Wait()

	status, _ := h.ExitStatus()
	if status.Signaled {
		return 128 + int(status.Signal)
	}
	return status.Code
}

func cmdKill(args []string) int {
	fs := flag.NewFlagSet("kill", flag.ExitOnError)
	var g globalOpts
	addRuntimeFlags(fs, &g)
	sigName := fs.String("sig", "", "Signal to send, by name (default from configuration)")
	children := fs.Bool("children", false, "Also signal the target's process group")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: procbus kill [options] pid [pid...]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	rt, err := newRuntime(&g)
	if err != nil {
		return fail("%v", err)
	}
	defer rt.Shutdown()

	sig := rt.DefaultSignal()
	if *sigName != "" {
		s, ok := proc.SignalByName(*sigName)
		if !ok {
			return fail("unknown signal %q", *sigName)
		}
		sig = s
	}
	flags := proc.KillNoChildren
	if *children {
		flags = proc.KillChildren
	}

	code := 0
	for _, arg := range fs.Args() {
		pid, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid pid %q\n", arg)
			code = 1
			continue
		}
		result := rt.Kill(pid, sig, flags)
		fmt.Printf("%d: %s\n", pid, result)
		if result != proc.KillOK {
			code = 1
		}
	}
	return code
}

func cmdExists(args []string) int {
	fs := flag.NewFlagSet("exists", flag.ExitOnError)
	var g globalOpts
	addRuntimeFlags(fs, &g)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: procbus exists [options] pid [pid...]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	rt, err := newRuntime(&g)
	if err != nil {
		return fail("%v", err)
	}
	defer rt.Shutdown()

	code := 0
	for _, arg := range fs.Args() {
		pid, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid pid %q\n", arg)
			code = 1
			continue
		}
		if rt.Exists(pid) {
			fmt.Printf("%d: alive\n", pid)
		} else {
			fmt.Printf("%d: not found\n", pid)
			code = 1
		}
	}
	return code
}
