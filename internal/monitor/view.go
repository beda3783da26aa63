package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/uniseg"
)

// View renders a Model on a tcell screen and handles key input: arrow keys
// move the selection, "k" signals the selected child, "q" or Escape quits.
type View struct {
	screen tcell.Screen
	model  *Model
	kill   func(pid int)

	quit     chan struct{}
	quitOnce sync.Once
}

// NewView creates a view over model. kill is invoked with the selected pid
// when the user requests a kill; it may be nil.
func NewView(model *Model, kill func(pid int)) (*View, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return &View{
		screen: screen,
		model:  model,
		kill:   kill,
		quit:   make(chan struct{}),
	}, nil
}

// Run initializes the screen and blocks handling input until the user
// quits or Stop is called.
func (v *View) Run() error {
	if err := v.screen.Init(); err != nil {
		return err
	}
	defer v.screen.Fini()

	// Periodic wakeups keep the TIME column ticking for live children.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				v.Refresh()
			case <-v.quit:
				return
			}
		}
	}()

	v.draw()
	for {
		select {
		case <-v.quit:
			return nil
		default:
		}

		ev := v.screen.PollEvent()
		if ev == nil {
			return nil
		}

		switch e := ev.(type) {
		case *tcell.EventKey:
			if v.handleKey(e) {
				return nil
			}
			v.draw()
		case *tcell.EventResize:
			v.screen.Sync()
			v.draw()
		case *tcell.EventInterrupt:
			v.draw()
		}
	}
}

// Stop ends Run from another goroutine. Safe to call more than once.
func (v *View) Stop() {
	v.quitOnce.Do(func() {
		close(v.quit)
		_ = v.screen.PostEvent(tcell.NewEventInterrupt(nil)) // best-effort wakeup
	})
}

// Refresh schedules a redraw. Safe to call from any goroutine.
func (v *View) Refresh() {
	_ = v.screen.PostEvent(tcell.NewEventInterrupt(nil)) // best-effort; queue may be full
}

// handleKey processes one key event, returning true to quit.
func (v *View) handleKey(e *tcell.EventKey) bool {
	switch e.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyUp:
		v.model.SelectPrev()
	case tcell.KeyDown:
		v.model.SelectNext()
	case tcell.KeyRune:
		switch e.Rune() {
		case 'q':
			return true
		case 'k':
			v.killSelected()
		}
	}
	return false
}

// killSelected signals the selected child if it is still running.
func (v *View) killSelected() {
	if v.kill == nil {
		return
	}
	if row, ok := v.model.Selected(); ok && !row.Done {
		v.kill(row.Pid)
	}
}

// draw repaints the whole screen from the model.
func (v *View) draw() {
	v.screen.Clear()
	width, height := v.screen.Size()
	if width <= 0 || height <= 0 {
		v.screen.Show()
		return
	}

	lines := v.model.RenderLines(width, height-1)
	for y, line := range lines {
		style := tcell.StyleDefault
		if y == 0 {
			style = style.Bold(true)
		}
		v.drawText(0, y, line, style)
	}

	footer := fmt.Sprintf("q quit   up/down select   k kill   %d running", v.model.Running())
	v.drawText(0, height-1, truncate(footer, width), tcell.StyleDefault.Dim(true))

	v.screen.Show()
}

// drawText writes s starting at (x, y), advancing by display width so wide
// runes occupy two columns.
func (v *View) drawText(x, y int, s string, style tcell.Style) {
	col := x
	for _, r := range s {
		v.screen.SetContent(col, y, r, nil, style)
		w := uniseg.StringWidth(string(r))
		if w < 1 {
			w = 1
		}
		col += w
	}
}
