// Package task wraps the worker pool used by every parallel pipeline stage. A stage forks work
// with ParallelFor and blocks until every task has returned, which is the only barrier the
// pipeline relies on between stages.
package task

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// Runner executes fork/join task sets on a persistent pool of workers.
// Workers are reused across frames, avoiding per-frame goroutine spawn overhead.
type Runner interface {
	// ParallelFor runs fn(i) for every i in [0, n) and returns once all calls have completed.
	// A panic inside fn is recovered, logged and reported through the returned error so one
	// bad task cannot take down the frame.
	//
	// Parameters:
	//   - name: label used in log messages
	//   - n: the number of tasks
	//   - fn: the task body
	//
	// Returns:
	//   - error: a *PanicError for the first task that panicked, or nil
	ParallelFor(name string, n int, fn func(i int)) error

	// Workers returns the configured worker count.
	Workers() int
}

// PanicError reports a task that panicked.
type PanicError struct {
	Stage string
	Task  int
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s[%d] panicked: %v", e.Stage, e.Task, e.Value)
}

type runner struct {
	pool      worker.DynamicWorkerPool
	workers   int
	queueSize int
	nextID    atomic.Int64
}

// Ensure runner implements Runner interface.
var _ Runner = &runner{}

// NewRunner creates a Runner backed by a worker.DynamicWorkerPool.
//
// Parameters:
//   - workers: number of worker goroutines (minimum 1)
//   - queueSize: task queue depth (minimum 1)
//
// Returns:
//   - Runner: the new runner
func NewRunner(workers, queueSize int) Runner {
	workers = max(workers, 1)
	queueSize = max(queueSize, 1)
	return &runner{
		pool:      worker.NewDynamicWorkerPool(workers, queueSize, 1*time.Second),
		workers:   workers,
		queueSize: queueSize,
	}
}

func (r *runner) Workers() int {
	return r.workers
}

func (r *runner) ParallelFor(name string, n int, fn func(i int)) error {
	if n <= 0 {
		return nil
	}

	// A single task runs inline; there is nothing to overlap it with.
	if n == 1 {
		if err := runGuarded(name, 0, fn); err != nil {
			return err
		}
		return nil
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		panicErr *PanicError
		next     atomic.Int64
	)

	// Submit at most one task per worker; each task claims indices until none remain,
	// so the pool queue never holds more than r.workers entries for this stage.
	numTasks := min(n, r.workers, r.queueSize)
	wg.Add(numTasks)
	for range numTasks {
		r.pool.SubmitTask(worker.Task{
			ID: int(r.nextID.Add(1)),
			Do: func() (any, error) {
				defer wg.Done()
				for {
					idx := int(next.Add(1) - 1)
					if idx >= n {
						return nil, nil
					}
					if err := runGuarded(name, idx, fn); err != nil {
						errOnce.Do(func() {
							panicErr = err
						})
					}
				}
			},
		})
	}
	wg.Wait()

	if panicErr != nil {
		return panicErr
	}
	return nil
}

func runGuarded(name string, idx int, fn func(i int)) (err *PanicError) {
	defer func() {
		if v := recover(); v != nil {
			log.Printf("[Task] %s[%d] panicked: %v", name, idx, v)
			err = &PanicError{Stage: name, Task: idx, Value: v}
		}
	}()
	fn(idx)
	return nil
}
