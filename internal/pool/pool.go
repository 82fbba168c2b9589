// Package pool provides a bounded worker pool with caller-runs
// backpressure for background tasks such as watch-triggered imports.
package pool

import (
	"sync"
	"sync/atomic"

	tferrors "github.com/tabflow/tabflow/pkg/errors"
)

// Task is one unit of background work.
type Task func()

// Pool runs tasks on a fixed set of goroutines over a bounded queue.
//
// Saturation policy is caller-runs: when the queue is full, Submit
// executes the task on the submitting goroutine instead of blocking or
// dropping it. Production slows to consumption speed and no task is
// ever lost.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup

	// mu orders Submit's channel send against Close's channel close so
	// a late Submit can never send on a closed channel.
	mu     sync.Mutex
	closed bool

	submitted   atomic.Int64
	callerRuns  atomic.Int64
	panicsCount atomic.Int64
}

// New starts a pool of workers goroutines with a queue of queueSize
// pending tasks. Non-positive arguments are raised to 1.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &Pool{tasks: make(chan Task, queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panicsCount.Add(1)
		}
	}()
	task()
}

// Submit enqueues a task, running it inline when the queue is full.
// Returns an error only after Close.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return tferrors.New(tferrors.CodeWorkerFailed, "pool is closed")
	}
	p.submitted.Add(1)
	inline := false
	select {
	case p.tasks <- task:
	default:
		inline = true
	}
	p.mu.Unlock()

	// The inline run happens outside the lock so a long task never
	// blocks other submitters or Close.
	if inline {
		p.callerRuns.Add(1)
		p.run(task)
	}
	return nil
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats reports pool activity counters.
func (p *Pool) Stats() (submitted, callerRuns, panics int64) {
	return p.submitted.Load(), p.callerRuns.Load(), p.panicsCount.Load()
}
