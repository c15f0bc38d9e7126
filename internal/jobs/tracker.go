package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ah-its-andy/mediaconv/internal/converter"
	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

const (
	StateRunning = "running"
	StateDone    = "done"
)

// Job is a snapshot of a submitted conversion.
type Job struct {
	ID         string            `json:"id"`
	State      string            `json:"state"`
	Request    converter.Request `json:"request"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Result     *converter.Result `json:"result,omitempty"`
}

type entry struct {
	job  Job
	done chan struct{}
}

// Tracker keeps conversions submitted over HTTP addressable by id.
type Tracker struct {
	mu     sync.RWMutex
	jobs   map[string]*entry
	maxAge time.Duration
	now    func() time.Time
}

// NewTracker creates a tracker. Finished jobs older than maxAge are pruned
// when new jobs start; zero keeps them forever.
func NewTracker(maxAge time.Duration) *Tracker {
	return &Tracker{jobs: make(map[string]*entry), maxAge: maxAge, now: time.Now}
}

// Start registers a running job for req.
func (t *Tracker) Start(req converter.Request) Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked()
	e := &entry{
		job:  Job{ID: uuid.NewString(), State: StateRunning, Request: req, StartedAt: t.now()},
		done: make(chan struct{}),
	}
	t.jobs[e.job.ID] = e
	return e.job
}

// Finish stores the result and wakes waiters. Finishing twice is a no-op.
func (t *Tracker) Finish(id string, res converter.Result) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if e.job.State == StateDone {
		return nil
	}
	now := t.now()
	e.job.State = StateDone
	e.job.FinishedAt = &now
	e.job.Result = &res
	close(e.done)
	return nil
}

// Get returns a copy of the job.
func (t *Tracker) Get(id string) (Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return e.job, nil
}

// List returns all tracked jobs, newest first.
func (t *Tracker) List() []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Job, 0, len(t.jobs))
	for _, e := range t.jobs {
		out = append(out, e.job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Wait blocks until the job finishes or ctx is done.
func (t *Tracker) Wait(ctx context.Context, id string) (Job, error) {
	t.mu.RLock()
	e, ok := t.jobs[id]
	t.mu.RUnlock()
	if !ok {
		return Job{}, ErrNotFound
	}

	select {
	case <-e.done:
		return t.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (t *Tracker) pruneLocked() {
	if t.maxAge <= 0 {
		return
	}
	now := t.now()
	for id, e := range t.jobs {
		if e.job.FinishedAt != nil && now.Sub(*e.job.FinishedAt) > t.maxAge {
			delete(t.jobs, id)
		}
	}
}
