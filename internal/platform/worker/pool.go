// Package worker provides a small fixed-size worker pool.
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Submit after the pool has been closed.
var ErrClosed = errors.New("worker: pool is closed")

// Job is a unit of work executed by the pool.
type Job struct {
	// ID identifies the job in results and logs.
	ID string
	// Execute runs the job. The context is the pool's context.
	Execute func(ctx context.Context) (interface{}, error)
}

// Result is the outcome of one job.
type Result struct {
	JobID string
	Value interface{}
	Err   error
}

// Pool runs jobs on a fixed number of goroutines.
type Pool struct {
	workers  int
	jobQueue chan Job
	results  chan Result
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewPool starts a pool with the given worker count and queue depth.
func NewPool(ctx context.Context, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		workers:  workers,
		jobQueue: make(chan Job, queueSize),
		results:  make(chan Result, queueSize+workers),
		ctx:      poolCtx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}

	return p
}

func (p *Pool) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobQueue:
			value, err := job.Execute(p.ctx)
			select {
			case p.results <- Result{JobID: job.ID, Value: value, Err: err}:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a job, blocking while the queue is full. It returns
// ErrClosed once the pool has been closed.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	// The queue channel is never closed, so this send cannot panic even
	// when Close races with it; cancellation unblocks the send instead.
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		return nil
	}
}

// SubmitAndWait submits all jobs and collects their results.
// Results arrive in completion order, not submission order.
func (p *Pool) SubmitAndWait(jobs []Job) []Result {
	submitted := 0
	for _, job := range jobs {
		if err := p.Submit(job); err != nil {
			break
		}
		submitted++
	}

	results := make([]Result, 0, submitted)
	for i := 0; i < submitted; i++ {
		select {
		case <-p.ctx.Done():
			return results
		case result := <-p.results:
			results = append(results, result)
		}
	}

	return results
}

// Close stops accepting jobs, cancels in-flight work, and waits for the
// workers to exit. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Workers returns the pool's worker count.
func (p *Pool) Workers() int {
	return p.workers
}
