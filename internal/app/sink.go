package app

import (
	"context"
	"time"

	"github.com/dshills/procbus/internal/event"
	"github.com/dshills/procbus/internal/event/events"
	"github.com/dshills/procbus/internal/journal"
	"github.com/dshills/procbus/internal/logging"
	"github.com/dshills/procbus/internal/proc"
)

// busSink bridges launcher lifecycle callbacks onto the event bus and the
// journal. The callbacks publish synchronously so bus subscribers always
// observe a child's spawn before its exit.
type busSink struct {
	bus     *event.Bus
	journal *journal.Journal
	log     *logging.Logger
}

func (s *busSink) ProcessSpawned(h *proc.Handle, command []string) {
	e := event.New(events.TopicProcessSpawned, events.ProcessSpawned{
		Pid:        h.Pid(),
		HandleID:   h.ID(),
		Command:    command,
		Redirected: h.IsRedirected(),
		Priority:   h.Priority(),
		Start:      time.Now(),
	}, "launcher")
	if err := s.bus.PublishSync(context.Background(), e); err != nil {
		s.log.Warn("publish spawn event: %v", err)
	}

	if err := s.journal.RecordSpawned(h.Pid(), h.ID(), command); err != nil {
		s.log.Warn("journal spawn record: %v", err)
	}
}

func (s *busSink) ProcessExited(h *proc.Handle, status proc.ExitStatus) {
	payload := events.ProcessExited{
		Pid:      h.Pid(),
		HandleID: h.ID(),
		ExitCode: status.Code,
		Signaled: status.Signaled,
		Runtime:  h.Runtime(),
	}
	if status.Signaled {
		payload.Signal = proc.SignalName(status.Signal)
	}

	e := event.New(events.TopicProcessExited, payload, "launcher")
	if err := s.bus.PublishSync(context.Background(), e); err != nil {
		s.log.Warn("publish exit event: %v", err)
	}

	if err := s.journal.RecordExited(h.Pid(), h.ID(), status.Code, status.Signaled, payload.Signal); err != nil {
		s.log.Warn("journal exit record: %v", err)
	}
}

func (s *busSink) ProcessDetached(h *proc.Handle) {
	e := event.New(events.TopicProcessDetached, events.ProcessDetached{
		Pid:      h.Pid(),
		HandleID: h.ID(),
	}, "launcher")
	if err := s.bus.PublishSync(context.Background(), e); err != nil {
		s.log.Warn("publish detach event: %v", err)
	}
}
