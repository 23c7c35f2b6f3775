// Package restore schedules replay workers over the pending save-files
// discovered at startup.
package restore

import (
	"io"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// WorkerStatus is the observable liveness of a dispatched replay worker.
type WorkerStatus int

const (
	StatusNotStarted WorkerStatus = iota
	StatusStarted
	StatusStopped
)

func (s WorkerStatus) String() string {
	switch s {
	case StatusNotStarted:
		return "not-started"
	case StatusStarted:
		return "started"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WorkerHandle is a liveness handle to one dispatched worker. The scheduler
// only ever observes liveness; it shares no state with the worker.
type WorkerHandle interface {
	Status() WorkerStatus
}

// Launcher starts an isolated replay worker for a save-file id. onExit is
// invoked exactly once when the worker reaches a terminal state, however it
// got there.
type Launcher interface {
	Launch(id int, onExit func()) (WorkerHandle, error)
}

// Options configures a Scheduler.
type Options struct {
	// Parallel stops the scheduler from waiting on a started worker
	// before dispatching the next one.
	Parallel bool

	// MaxParallel, when positive, bounds the number of live workers in
	// parallel mode. Zero leaves parallel dispatch unbounded: only the
	// most recently dispatched handle is remembered, so parallel mode
	// removes waiting without limiting concurrency.
	MaxParallel int64

	// Notify is called whenever a worker exits, so the owner can schedule
	// the next tick promptly instead of waiting out the tick timeout.
	Notify func()

	Logger *slog.Logger
}

// Scheduler drains the pending save-file queue, dispatching at most one
// replay worker per tick and remembering only the most recently dispatched
// handle.
//
// Not safe for concurrent use; the orchestrator loop owns it.
type Scheduler struct {
	launcher Launcher
	logger   *slog.Logger
	parallel bool
	sem      *semaphore.Weighted
	notify   func()

	pending []int
	last    WorkerHandle
}

// NewScheduler creates a Scheduler dispatching through launcher.
func NewScheduler(launcher Launcher, optFns ...func(o *Options)) *Scheduler {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Scheduler{
		launcher: launcher,
		logger:   opts.Logger,
		parallel: opts.Parallel,
		notify:   opts.Notify,
	}
	if opts.MaxParallel > 0 {
		s.sem = semaphore.NewWeighted(opts.MaxParallel)
	}
	return s
}

// SetPending replaces the pending queue. Called once at startup with the
// discovered save-file ids.
func (s *Scheduler) SetPending(ids []int) {
	s.pending = append(s.pending[:0], ids...)
}

// Pending returns the number of queued save-file ids.
func (s *Scheduler) Pending() int { return len(s.pending) }

// SetParallel reconfigures parallel dispatch, effective from the next tick.
func (s *Scheduler) SetParallel(parallel bool) { s.parallel = parallel }

// Tick runs one scheduling step:
//
//   - empty queue: nothing to do;
//   - remembered worker started or not yet started: wait, unless parallel
//     dispatch is enabled;
//   - remembered worker stopped: clear the slot and stop; clearing and
//     dispatching happen on separate ticks to bound per-tick work;
//   - slot free: pop the queue front and launch. A launch failure leaves
//     the id at the front for the next tick.
func (s *Scheduler) Tick() {
	if len(s.pending) == 0 {
		return
	}

	if s.last != nil {
		switch s.last.Status() {
		case StatusStarted, StatusNotStarted:
			if !s.parallel {
				return
			}
		case StatusStopped:
			s.last = nil
			return
		}
	}

	if s.sem != nil && !s.sem.TryAcquire(1) {
		// Bounded mode: the configured number of workers is still live.
		return
	}

	id := s.pending[0]
	handle, err := s.launcher.Launch(id, s.workerExited)
	if err != nil {
		if s.sem != nil {
			s.sem.Release(1)
		}
		s.logger.Error("registration of replay worker failed", "id", id, "error", err)
		return
	}

	s.logger.Debug("dispatched replay worker", "id", id)
	s.last = handle
	s.pending = s.pending[1:]
}

func (s *Scheduler) workerExited() {
	if s.sem != nil {
		s.sem.Release(1)
	}
	if s.notify != nil {
		s.notify()
	}
}
