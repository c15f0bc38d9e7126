package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when a conversion is already in flight.
var ErrBusy = errors.New("a conversion is already running")

// Runner executes at most one Job at a time in the background.
type Runner struct {
	sem     *semaphore.Weighted
	running atomic.Bool
	logger  *slog.Logger
	exec    func(context.Context, Job) Outcome
}

// New creates a Runner backed by Execute.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		sem:    semaphore.NewWeighted(1),
		logger: logger,
		exec:   Execute,
	}
}

// Busy reports whether a job is currently running.
func (r *Runner) Busy() bool {
	return r.running.Load()
}

// Submit starts job in a new goroutine and returns a channel that receives
// exactly one Outcome and is then closed. It does not block: if another job
// is running it returns ErrBusy instead.
func (r *Runner) Submit(ctx context.Context, job Job) (<-chan Outcome, error) {
	if !r.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	r.running.Store(true)

	done := make(chan Outcome, 1)
	go func() {
		var out Outcome
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("worker panic", "binary", job.Binary, "panic", p)
				out = Outcome{ExitCode: -1, Err: errors.New("internal error while running conversion")}
			}
			r.running.Store(false)
			r.sem.Release(1)
			done <- out
			close(done)
		}()

		r.logger.Debug("starting job", "binary", job.Binary, "output", job.OutputFile)
		out = r.exec(ctx, job)
		r.logger.Debug("job finished", "exit_code", out.ExitCode, "duration", out.Duration)
	}()
	return done, nil
}
