package broker

import (
	"github.com/panjf2000/ants/v2"

	"github.com/tallerdist/sentinela/internal/er"
)

// WorkerPool bounds packet-processing concurrency to spec §4.2's default
// of 20 workers, backed by ants instead of a hand-rolled channel-of-workers
// (domain-stack wiring, see SPEC_FULL §2).
type WorkerPool struct {
	pool *ants.Pool
}

// NewWorkerPool creates a pool with the given capacity.
func NewWorkerPool(capacity int) (*WorkerPool, error) {
	pool, err := ants.NewPool(capacity, ants.WithPreAlloc(true))
	if err != nil {
		return nil, &er.Err{Context: "WorkerPool", Message: err}
	}
	return &WorkerPool{pool: pool}, nil
}

// Submit schedules task to run on the pool, blocking if every worker is
// busy (spec §5: "the worker pool must therefore be sized to tolerate
// slow subscribers").
func (wp *WorkerPool) Submit(task func()) error {
	if err := wp.pool.Submit(task); err != nil {
		return &er.Err{Context: "WorkerPool, Submit", Message: err}
	}
	return nil
}

// Release closes the pool so new tasks are rejected; tasks already running
// are not waited for.
func (wp *WorkerPool) Release() {
	wp.pool.Release()
}
