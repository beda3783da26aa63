// Package journal keeps an append-only JSONL audit log of child process
// lifecycle: one record per spawn, exit and kill. Records are written as
// single JSON lines so the log can be tailed, shipped or queried without
// a schema migration step.
package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Record kinds.
const (
	KindSpawned = "spawned"
	KindExited  = "exited"
	KindKilled  = "killed"
)

// ErrClosed is returned when writing to a closed journal.
var ErrClosed = errors.New("journal: closed")

// Discard is a journal that drops every record. It stands in when
// journaling is disabled so callers never need a nil check.
var Discard = &Journal{dropping: true}

// Record is one decoded journal entry. Fields beyond Time/Kind/Pid are
// populated per kind: Command for spawns, ExitCode/Signaled/Signal for
// exits, Signal/Result for kills.
type Record struct {
	Time     time.Time
	Kind     string
	Pid      int
	HandleID string
	Command  []string
	ExitCode int
	Signaled bool
	Signal   string
	Result   string
}

// Journal appends lifecycle records to a JSONL file. All methods are safe
// for concurrent use.
type Journal struct {
	path     string
	dropping bool

	mu     sync.Mutex
	f      *os.File
	closed bool
}

// Open creates or opens the journal file at path in append mode, creating
// parent directories as needed.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Journal{path: path, f: f}, nil
}

// Path returns the journal file path, empty for Discard.
func (j *Journal) Path() string {
	return j.path
}

// RecordSpawned appends a spawn record.
func (j *Journal) RecordSpawned(pid int, handleID string, command []string) error {
	b := newLine(KindSpawned, pid)
	b.set("handle", handleID)
	b.set("command", command)
	return j.append(b)
}

// RecordExited appends an exit record. signal is the terminating signal
// name and only recorded when signaled is true.
func (j *Journal) RecordExited(pid int, handleID string, code int, signaled bool, signal string) error {
	b := newLine(KindExited, pid)
	b.set("handle", handleID)
	b.set("exit_code", code)
	if signaled {
		b.set("signaled", true)
		b.set("signal", signal)
	}
	return j.append(b)
}

// RecordKilled appends a record of an explicit signal delivery and its
// outcome.
func (j *Journal) RecordKilled(pid int, signal, result string) error {
	b := newLine(KindKilled, pid)
	b.set("signal", signal)
	b.set("result", result)
	return j.append(b)
}

// Records reads back every decodable record in the journal, oldest first.
// Lines that do not parse as JSON are skipped.
func (j *Journal) Records() ([]Record, error) {
	if j.dropping {
		return nil, nil
	}
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: read %s: %w", j.path, err)
	}

	var records []Record
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		rec, ok := parseRecord(line)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ByPid returns the records for one pid, oldest first.
func (j *Journal) ByPid(pid int) ([]Record, error) {
	all, err := j.Records()
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, rec := range all {
		if rec.Pid == pid {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Close flushes and closes the journal file. Repeated calls are no-ops.
func (j *Journal) Close() error {
	if j.dropping {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.f.Close()
}

// append writes one completed line under the lock. O_APPEND keeps whole
// lines intact even with multiple writers on the same file.
func (j *Journal) append(b *lineBuilder) error {
	if j.dropping {
		return nil
	}
	if b.err != nil {
		return fmt.Errorf("journal: encode record: %w", b.err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if _, err := j.f.WriteString(b.json + "\n"); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// lineBuilder accumulates one JSON line, capturing the first encode error.
type lineBuilder struct {
	json string
	err  error
}

func newLine(kind string, pid int) *lineBuilder {
	b := &lineBuilder{}
	b.set("time", time.Now().UTC().Format(time.RFC3339Nano))
	b.set("kind", kind)
	b.set("pid", pid)
	return b
}

func (b *lineBuilder) set(path string, value any) {
	if b.err != nil {
		return
	}
	b.json, b.err = sjson.Set(b.json, path, value)
}

// parseRecord decodes one JSONL line.
func parseRecord(line string) (Record, bool) {
	if !gjson.Valid(line) {
		return Record{}, false
	}
	v := gjson.Parse(line)

	rec := Record{
		Kind:     v.Get("kind").String(),
		Pid:      int(v.Get("pid").Int()),
		HandleID: v.Get("handle").String(),
		ExitCode: int(v.Get("exit_code").Int()),
		Signaled: v.Get("signaled").Bool(),
		Signal:   v.Get("signal").String(),
		Result:   v.Get("result").String(),
	}
	if rec.Kind == "" {
		return Record{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, v.Get("time").String()); err == nil {
		rec.Time = t
	}
	for _, c := range v.Get("command").Array() {
		rec.Command = append(rec.Command, c.String())
	}
	return rec, true
}
