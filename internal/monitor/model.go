// Package monitor provides a live terminal view of the children managed by
// the runtime, fed entirely by bus events.
package monitor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rivo/uniseg"

	"github.com/dshills/procbus/internal/event"
	"github.com/dshills/procbus/internal/event/events"
)

// Row is the display state for one child process.
type Row struct {
	Pid      int
	HandleID string
	Command  string
	Status   string
	Started  time.Time
	Runtime  time.Duration
	Done     bool
	LastLine string
}

// Model accumulates process lifecycle events into renderable rows. It is
// independent of any screen so it can be driven and inspected in tests.
type Model struct {
	mu       sync.Mutex
	rows     map[int]*Row
	order    []int
	selected int
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{rows: make(map[int]*Row)}
}

// Apply folds one bus event into the model. Unknown topics are ignored.
func (m *Model) Apply(e event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch payload := e.Payload.(type) {
	case events.ProcessSpawned:
		if _, ok := m.rows[payload.Pid]; ok {
			return
		}
		m.rows[payload.Pid] = &Row{
			Pid:      payload.Pid,
			HandleID: payload.HandleID,
			Command:  strings.Join(payload.Command, " "),
			Status:   "running",
			Started:  payload.Start,
		}
		m.order = append(m.order, payload.Pid)

	case events.ProcessExited:
		row, ok := m.rows[payload.Pid]
		if !ok {
			return
		}
		row.Done = true
		row.Runtime = payload.Runtime
		if payload.Signaled {
			row.Status = "signal " + payload.Signal
		} else {
			row.Status = fmt.Sprintf("exit %d", payload.ExitCode)
		}

	case events.ProcessOutput:
		if row, ok := m.rows[payload.Pid]; ok {
			row.LastLine = payload.Line
		}

	case events.ProcessKilled:
		if row, ok := m.rows[payload.Pid]; ok && !row.Done {
			row.Status = "killing (" + payload.Signal + ")"
		}
	}
}

// Len returns the number of rows.
func (m *Model) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Running returns the number of rows that have not terminated.
func (m *Model) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range m.rows {
		if !row.Done {
			n++
		}
	}
	return n
}

// SelectNext moves the selection down one row.
func (m *Model) SelectNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected < len(m.order)-1 {
		m.selected++
	}
}

// SelectPrev moves the selection up one row.
func (m *Model) SelectPrev() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected > 0 {
		m.selected--
	}
}

// Selected returns a copy of the selected row.
func (m *Model) Selected() (Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected >= len(m.order) {
		return Row{}, false
	}
	return *m.rows[m.order[m.selected]], true
}

// RenderLines formats the model into at most height display lines of at
// most width columns: a header line followed by one line per process in
// spawn order. The selected row is marked with ">".
func (m *Model) RenderLines(width, height int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if width <= 0 || height <= 0 {
		return nil
	}

	lines := make([]string, 0, height)
	lines = append(lines, truncate(fmt.Sprintf("  %-8s %-16s %-10s %s", "PID", "STATUS", "TIME", "COMMAND"), width))

	first := 0
	visible := height - 1
	if len(m.order) > visible && m.selected >= visible {
		first = m.selected - visible + 1
	}

	for i := first; i < len(m.order) && len(lines) < height; i++ {
		row := m.rows[m.order[i]]

		runtime := row.Runtime
		if !row.Done && !row.Started.IsZero() {
			runtime = time.Since(row.Started)
		}

		marker := " "
		if i == m.selected {
			marker = ">"
		}

		text := row.Command
		if row.LastLine != "" {
			text += " | " + row.LastLine
		}

		line := fmt.Sprintf("%s %-8d %-16s %-10s %s",
			marker, row.Pid, row.Status, formatRuntime(runtime), text)
		lines = append(lines, truncate(line, width))
	}

	return lines
}

// formatRuntime renders a duration compactly for the TIME column.
func formatRuntime(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// truncate cuts s to at most max display columns, ending with an ellipsis
// when anything was removed. Widths follow grapheme cluster rendering, so
// wide runes count as two columns.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if uniseg.StringWidth(s) <= max {
		return s
	}

	var b strings.Builder
	width := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		w := g.Width()
		if width+w > max-1 {
			break
		}
		b.WriteString(g.Str())
		width += w
	}
	b.WriteString("…")
	return b.String()
}
