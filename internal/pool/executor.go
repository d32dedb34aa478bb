// Package pool provides bounded-concurrency execution for downstream calls.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var (
	ErrExecutorClosed = errors.New("executor is closed")
	ErrTaskPanicked   = errors.New("task panicked")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// Executor runs tasks with at most Limit of them active at once.
// Tasks beyond the limit wait in FIFO order for a free slot.
type Executor struct {
	limit  int64
	sem    *semaphore.Weighted
	closed atomic.Bool

	// Metrics
	active    atomic.Int64
	peak      atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	panicHandler func(any)
}

// ExecutorConfig configures the executor.
type ExecutorConfig struct {
	Limit        int       `json:"limit"`
	PanicHandler func(any) `json:"-"`
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{Limit: 5}
}

// NewExecutor creates a new executor. A non-positive limit falls back to the default.
func NewExecutor(config ExecutorConfig) *Executor {
	if config.Limit <= 0 {
		config.Limit = DefaultExecutorConfig().Limit
	}
	return &Executor{
		limit:        int64(config.Limit),
		sem:          semaphore.NewWeighted(int64(config.Limit)),
		panicHandler: config.PanicHandler,
	}
}

// Limit returns the configured concurrency limit.
func (e *Executor) Limit() int {
	return int(e.limit)
}

// Run acquires a slot, runs task and releases the slot. It blocks while the
// executor is saturated and returns ctx.Err() if ctx ends before a slot frees up.
func (e *Executor) Run(ctx context.Context, task Task) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	e.submitted.Add(1)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.failed.Add(1)
		return err
	}
	defer e.sem.Release(1)

	e.enter()
	err := e.execute(ctx, task)
	e.active.Add(-1)

	if err != nil {
		e.failed.Add(1)
	} else {
		e.completed.Add(1)
	}
	return err
}

// Go runs task asynchronously through Run. The returned channel receives
// exactly one value and is then closed.
func (e *Executor) Go(ctx context.Context, task Task) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, task)
		close(done)
	}()
	return done
}

func (e *Executor) enter() {
	n := e.active.Add(1)
	for {
		peak := e.peak.Load()
		if n <= peak || e.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (e *Executor) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e.panicHandler != nil {
				e.panicHandler(r)
			}
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()

	return task(ctx)
}

// Close rejects further submissions. Tasks already running are not interrupted.
func (e *Executor) Close() {
	e.closed.Store(true)
}

// Stats returns executor statistics.
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Limit:     int(e.limit),
		Active:    e.active.Load(),
		Peak:      e.peak.Load(),
		Submitted: e.submitted.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
	}
}

// ExecutorStats contains executor statistics.
type ExecutorStats struct {
	Limit     int   `json:"limit"`
	Active    int64 `json:"active"`
	Peak      int64 `json:"peak"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
