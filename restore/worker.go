package restore

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
)

// ReplayFunc performs one full replay of a save-file id.
type ReplayFunc func(ctx context.Context, id int) error

// GoroutineLauncher runs each replay worker in its own goroutine. A worker
// failure, including a panic, is contained to that worker: it is logged,
// the handle reports stopped and the scheduler is notified, but nothing
// else is affected.
type GoroutineLauncher struct {
	ctx    context.Context
	run    ReplayFunc
	logger *slog.Logger
}

// NewGoroutineLauncher creates a launcher whose workers observe ctx for
// cancellation.
func NewGoroutineLauncher(ctx context.Context, run ReplayFunc, logger *slog.Logger) *GoroutineLauncher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &GoroutineLauncher{ctx: ctx, run: run, logger: logger}
}

type goroutineHandle struct {
	status atomic.Int32
}

func (h *goroutineHandle) Status() WorkerStatus {
	return WorkerStatus(h.status.Load())
}

// Launch starts a replay worker and returns its liveness handle.
func (l *GoroutineLauncher) Launch(id int, onExit func()) (WorkerHandle, error) {
	h := &goroutineHandle{}
	h.status.Store(int32(StatusNotStarted))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("block reader panicked", "reader", id, "panic", r)
			}
			h.status.Store(int32(StatusStopped))
			if onExit != nil {
				onExit()
			}
		}()

		h.status.Store(int32(StatusStarted))

		if err := l.run(l.ctx, id); err != nil {
			l.logger.Error("block reader failed", "reader", id, "error", err)
			return
		}

		// A supervisor cannot tell a clean worker exit from a crashed one
		// by the raw exit condition alone; this line is the documented
		// success signal.
		l.logger.Info("block reader: all blocks read successfully", "reader", id)
	}()

	return h, nil
}
