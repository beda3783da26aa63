// Package app wires the process controller together: configuration,
// logging, the event bus, the lifecycle journal and the launcher. It owns
// component lifecycles and shutdown ordering.
package app

import (
	"context"
	"io"
	"sync/atomic"
	"syscall"

	"github.com/dshills/procbus/internal/config"
	"github.com/dshills/procbus/internal/event"
	"github.com/dshills/procbus/internal/event/events"
	"github.com/dshills/procbus/internal/journal"
	"github.com/dshills/procbus/internal/logging"
	"github.com/dshills/procbus/internal/proc"
)

// Runtime is the assembled process controller.
type Runtime struct {
	cfg      config.Config
	log      *logging.Logger
	bus      *event.Bus
	journal  *journal.Journal
	launcher *proc.Launcher

	closed atomic.Bool
	opts   Options
}

// Options configures the runtime.
type Options struct {
	// ConfigPath is the TOML configuration file; empty means defaults.
	ConfigPath string

	// LogLevel overrides the configured level when non-empty.
	LogLevel string

	// LogOutput overrides the log destination, stderr by default.
	LogOutput io.Writer

	// JournalPath enables journaling to the given file, overriding the
	// configuration.
	JournalPath string

	// Quiet disables logging entirely.
	Quiet bool
}

// New builds a runtime from the given options, initializing components in
// dependency order.
func New(opts Options) (*Runtime, error) {
	rt := &Runtime{opts: opts}
	if err := rt.bootstrap(); err != nil {
		return nil, err
	}
	return rt, nil
}

// bootstrap initializes config, logger, bus, journal and launcher, in that
// order.
func (rt *Runtime) bootstrap() error {
	// 1. Configuration
	cfg, err := config.Load(rt.opts.ConfigPath)
	if err != nil {
		return &InitError{Component: "config", Err: err}
	}
	rt.cfg = cfg

	// 2. Logger
	level := cfg.Logging.Level
	if rt.opts.LogLevel != "" {
		level = rt.opts.LogLevel
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(level)
	if rt.opts.LogOutput != nil {
		logCfg.Output = rt.opts.LogOutput
	}
	rt.log = logging.New(logCfg)
	if rt.opts.Quiet {
		rt.log.Disable()
	}

	// 3. Event bus
	rt.bus = event.NewBus(
		event.WithQueueSize(cfg.Events.QueueSize),
		event.WithWorkers(cfg.Events.Workers),
		event.WithHandlerTimeout(cfg.Events.Timeout()),
		event.WithPanicHandler(func(e event.Event, recovered any, _ []byte) {
			rt.log.WithField("topic", string(e.Topic)).Error("handler panic: %v", recovered)
		}),
	)
	if err := rt.bus.Start(); err != nil {
		return &InitError{Component: "event bus", Err: err}
	}

	// 4. Journal. Failure to open is not fatal; the runtime degrades to a
	// discarding journal.
	rt.journal = journal.Discard
	journalPath := cfg.Journal.Path
	enabled := cfg.Journal.Enabled
	if rt.opts.JournalPath != "" {
		journalPath = rt.opts.JournalPath
		enabled = true
	}
	if enabled {
		j, err := journal.Open(journalPath)
		if err != nil {
			rt.log.Warn("journal disabled: %v", err)
		} else {
			rt.journal = j
		}
	}

	// 5. Launcher
	rt.launcher = proc.NewLauncher(
		proc.WithLogger(rt.log.WithComponent("launcher")),
		proc.WithSink(&busSink{
			bus:     rt.bus,
			journal: rt.journal,
			log:     rt.log,
		}),
		proc.WithStreamBuffer(cfg.Pipes.BufferSize),
	)

	return nil
}

// Launch starts a child on a fresh handle.
func (rt *Runtime) Launch(spec proc.LaunchSpec) (*proc.Handle, error) {
	return rt.launcher.Launch(spec)
}

// Start starts a child on a caller-configured handle.
func (rt *Runtime) Start(spec proc.LaunchSpec, h *proc.Handle) error {
	return rt.launcher.Start(spec, h)
}

// Open starts a child with full stdio redirection for pipe conversation.
func (rt *Runtime) Open(command ...string) (*proc.Handle, error) {
	return rt.launcher.Open(command...)
}

// Run executes a child synchronously and returns its exit code. Sync runs
// are not tracked and publish no lifecycle events.
func (rt *Runtime) Run(ctx context.Context, spec proc.LaunchSpec) (int, error) {
	return rt.launcher.Run(ctx, spec)
}

// Kill delivers a signal, journals the outcome and publishes a
// proc.killed event.
func (rt *Runtime) Kill(pid int, sig syscall.Signal, flags proc.KillFlags) proc.KillResult {
	result := rt.launcher.Kill(pid, sig, flags)

	name := proc.SignalName(sig)
	if err := rt.journal.RecordKilled(pid, name, result.String()); err != nil {
		rt.log.Warn("journal kill record: %v", err)
	}
	e := event.New(events.TopicProcessKilled, events.ProcessKilled{
		Pid:      pid,
		Signal:   name,
		Children: flags&proc.KillChildren != 0,
		Result:   result.String(),
	}, "runtime")
	if err := rt.bus.Publish(context.Background(), e); err != nil {
		rt.log.Warn("publish kill event: %v", err)
	}

	return result
}

// Exists probes whether a process with the given pid is alive.
func (rt *Runtime) Exists(pid int) bool {
	return rt.launcher.Exists(pid)
}

// DefaultSignal returns the configured default kill signal.
func (rt *Runtime) DefaultSignal() syscall.Signal {
	if sig, ok := proc.SignalByName(rt.cfg.Kill.DefaultSignal); ok {
		return sig
	}
	return syscall.SIGTERM
}

// Config returns the loaded configuration.
func (rt *Runtime) Config() config.Config {
	return rt.cfg
}

// Log returns the runtime logger.
func (rt *Runtime) Log() *logging.Logger {
	return rt.log
}

// Bus returns the event bus.
func (rt *Runtime) Bus() *event.Bus {
	return rt.bus
}

// Journal returns the lifecycle journal, Discard when disabled.
func (rt *Runtime) Journal() *journal.Journal {
	return rt.journal
}

// Launcher returns the child process launcher.
func (rt *Runtime) Launcher() *proc.Launcher {
	return rt.launcher
}

// Shutdown terminates live children within the configured grace period,
// then stops the bus and closes the journal. Repeated calls are no-ops.
func (rt *Runtime) Shutdown() {
	if !rt.closed.CompareAndSwap(false, true) {
		return
	}

	grace := rt.cfg.Shutdown.GraceDuration()
	rt.launcher.Shutdown(grace)

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := rt.bus.Stop(ctx); err != nil {
		rt.log.Warn("bus stop: %v", err)
	}

	if err := rt.journal.Close(); err != nil {
		rt.log.Warn("journal close: %v", err)
	}
}

// InitError reports which component failed to initialize.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
