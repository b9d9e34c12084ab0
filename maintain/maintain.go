// Package maintain runs the server endpoint's periodic housekeeping: a
// cron.Cron ticks on its own goroutine and drops a closure onto a
// channel; only the event-loop goroutine that drains that channel ever
// touches the id table or client list (spec §5's "no lock required given
// the single-threaded model" invariant extends to this background job —
// it never calls into endpoint/server directly from the cron goroutine).
//
// Grounded on the scheduled-job shape the pack's nishisan-dev/n-backup
// takes a dependency on for its own backup-run cadence, adapted here from
// "run a backup" to "run one sweep of the server's client list."
package maintain

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/wirerealm/wlcore/endpoint/server"
)

// Task is one pending maintenance action, handed to the event loop to run
// on its own goroutine.
type Task func()

// Scheduler drives a periodic sweep of display's connected clients,
// closing any whose connection has failed (spec §4.7/§5).
type Scheduler struct {
	cron    *cron.Cron
	display *server.Display
	logger  *slog.Logger
	tasks   chan Task
	entryID cron.EntryID
}

// New returns a scheduler bound to display. Call Start to begin ticking.
func New(display *server.Display, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		display: display,
		logger:  logger,
		tasks:   make(chan Task, 1),
	}
}

// Tasks returns the channel the event loop should drain — typically
// alongside socket readiness in the same select statement — running
// whatever Task arrives on its own goroutine.
func (s *Scheduler) Tasks() <-chan Task { return s.tasks }

// Enqueue posts task to run on the event-loop goroutine, for callers
// outside that goroutine (e.g. introspect's HTTP handlers) that need to
// read endpoint state without racing its single-threaded access rule
// (spec §5). Like the cron tick, it never blocks: task is dropped, and
// false returned, if the queue is still full from a previous post.
func (s *Scheduler) Enqueue(task Task) bool {
	select {
	case s.tasks <- task:
		return true
	default:
		s.logger.Warn("maintain: task queue full, dropping posted task")
		return false
	}
}

// Start schedules the sweep on the standard five-field cron expression
// spec and starts the underlying scheduler goroutine.
func (s *Scheduler) Start(spec string) error {
	id, err := s.cron.AddFunc(spec, s.enqueueSweep)
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	return nil
}

// enqueueSweep runs on the cron goroutine; it only ever posts a closure,
// never touching display state itself. A tick is dropped if the event
// loop hasn't drained the previous one yet, rather than blocking the
// cron goroutine or queuing an unbounded backlog.
func (s *Scheduler) enqueueSweep() {
	select {
	case s.tasks <- s.sweep:
	default:
		s.logger.Warn("maintain: event loop has not drained the previous sweep, dropping tick")
	}
}

// sweep prunes every client whose connection has failed since the last
// sweep. It must run on the event-loop goroutine (the Task delivered over
// Tasks does exactly that).
func (s *Scheduler) sweep() {
	for _, c := range s.display.Clients() {
		if !c.Dead() {
			continue
		}
		if err := c.Close(); err != nil {
			s.logger.Warn("maintain: close dead client", "err", err)
		}
	}
}

// Stop halts the cron goroutine, waiting for any in-flight run to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
