// Package main is the entry point for the procbus process controller.
package main

import (
	"fmt"
	"os"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return cmdRun(rest)
	case "open":
		return cmdOpen(rest)
	case "kill":
		return cmdKill(rest)
	case "exists":
		return cmdExists(rest)
	case "watch":
		return cmdWatch(rest)
	case "version", "--version", "-version", "-v":
		fmt.Printf("procbus %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		return 0
	case "help", "--help", "-help", "-h":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", cmd)
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Procbus - asynchronous child process controller\n\n")
	fmt.Fprintf(os.Stderr, "Usage: procbus <command> [options] [args...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run      Execute a command, asynchronously by default\n")
	fmt.Fprintf(os.Stderr, "  open     Talk to a command over pipes, stdin in and stdout/stderr out\n")
	fmt.Fprintf(os.Stderr, "  kill     Send a signal to processes by pid\n")
	fmt.Fprintf(os.Stderr, "  exists   Check whether pids are alive\n")
	fmt.Fprintf(os.Stderr, "  watch    Run commands under a live terminal monitor\n")
	fmt.Fprintf(os.Stderr, "  version  Show version information\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  procbus run -redirect -- make build\n")
	fmt.Fprintf(os.Stderr, "  procbus run -sync -timeout 30s -- ./slow-job\n")
	fmt.Fprintf(os.Stderr, "  procbus open -- bc -q\n")
	fmt.Fprintf(os.Stderr, "  procbus kill -sig KILL -children 12345\n")
	fmt.Fprintf(os.Stderr, "  procbus watch 'make test' 'tail -f app.log'\n")
	fmt.Fprintf(os.Stderr, "\nRun 'procbus <command> -h' for command options.\n")
}
