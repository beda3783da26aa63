package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/dshills/procbus/internal/app"
	"github.com/dshills/procbus/internal/event"
	"github.com/dshills/procbus/internal/event/events"
	"github.com/dshills/procbus/internal/monitor"
	"github.com/dshills/procbus/internal/proc"
)

// cmdWatch runs each quoted argument as a child process and shows them in
// a full-screen monitor fed by the event bus.
func cmdWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var g globalOpts
	addRuntimeFlags(fs, &g)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: procbus watch [options] 'command args' ['command args'...]\n\n")
		fmt.Fprintf(os.Stderr, "Keys: up/down select, k kill selected, q quit.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fail("watch needs a terminal")
	}

	// The screen owns the terminal, so the usual stderr logging would
	// corrupt it.
	g.quiet = true
	rt, err := newRuntime(&g)
	if err != nil {
		return fail("%v", err)
	}
	defer rt.Shutdown()

	model := monitor.NewModel()
	view, err := monitor.NewView(model, func(pid int) {
		rt.Kill(pid, rt.DefaultSignal(), proc.KillNoChildren)
	})
	if err != nil {
		return fail("%v", err)
	}

	sub, err := rt.Bus().SubscribeFunc("proc.**", func(_ context.Context, e event.Event) error {
		model.Apply(e)
		view.Refresh()
		return nil
	})
	if err != nil {
		return fail("%v", err)
	}
	defer sub.Cancel()

	for _, raw := range fs.Args() {
		command := strings.Fields(raw)
		if len(command) == 0 {
			continue
		}
		h := proc.NewHandle()
		h.Redirect()
		if err := rt.Start(proc.LaunchSpec{Command: command}, h); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", command[0], err)
			continue
		}
		h.CloseOutput()
		go publishLines(rt, h, h.InputStream(), false)
		go publishLines(rt, h, h.ErrorStream(), true)
	}
	if model.Len() == 0 {
		return fail("no children to watch")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM)
	go func() {
		<-signals
		view.Stop()
	}()

	if err := view.Run(); err != nil {
		return fail("%v", err)
	}
	return 0
}

// publishLines forwards one redirected child stream to the bus, a line per
// event.
func publishLines(rt *app.Runtime, h *proc.Handle, s *proc.ReadStream, stderr bool) {
	if s == nil {
		return
	}
	sc := bufio.NewScanner(s)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		e := event.New(events.TopicProcessOutput, events.ProcessOutput{
			Pid:      h.Pid(),
			HandleID: h.ID(),
			Stderr:   stderr,
			Line:     sc.Text(),
		}, "watch")
		_ = rt.Bus().Publish(context.Background(), e)
	}
}
