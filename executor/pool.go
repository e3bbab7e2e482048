// Package executor runs watch executions on a bounded worker pool.
package executor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	watcher "github.com/goliatone/go-watcher"
)

// Task is a unit of work submitted to the pool.
type Task interface {
	Run()
}

// TaskFunc adapts a function to Task.
type TaskFunc func()

func (f TaskFunc) Run() { f() }

const (
	DefaultWorkers   = 10
	DefaultQueueSize = 1000
)

// Pool is a bounded, drainable worker pool. Workers start lazily up to
// the configured maximum and submissions beyond the queue capacity fail
// with an executor rejected error.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Task
	capacity int
	workers  int
	started  int
	idle     int
	largest  int
	closed   bool
	group    errgroup.Group
	logger   watcher.Logger
	onPanic  func(funcName string, fields ...map[string]any)
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n >= 0 {
			p.capacity = n
		}
	}
}

func WithLogger(logger watcher.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPool(opts ...Option) *Pool {
	p := &Pool{
		capacity: DefaultQueueSize,
		workers:  DefaultWorkers,
		logger:   watcher.NewFmtLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.cond = sync.NewCond(&p.mu)
	p.onPanic = watcher.MakePanicHandler(watcher.LoggerPanicLogger(p.logger))
	return p
}

// Execute queues task for a worker. It never blocks.
func (p *Pool) Execute(task Task) error {
	if task == nil {
		return watcher.CloneError(watcher.ErrExecutorRejected, "nil task", nil, nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return watcher.CloneError(watcher.ErrExecutorRejected, "executor is shut down", nil, nil)
	}
	// idle workers that were signalled but have not claimed a task yet are
	// already spoken for by the queued tasks
	if len(p.queue) >= p.idle && p.started < p.workers {
		p.startWorkerLocked()
	}
	if len(p.queue) >= p.idle+p.capacity {
		return watcher.CloneError(watcher.ErrExecutorRejected, fmt.Sprintf("executor queue is full (capacity %d)", p.capacity), nil, map[string]any{
			"queue_size": len(p.queue),
			"capacity":   p.capacity,
			"workers":    p.started,
		})
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return nil
}

// DrainQueue removes and returns every task not yet picked by a worker.
func (p *Pool) DrainQueue() []Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.queue
	p.queue = nil
	return drained
}

// Tasks returns a snapshot of the queued tasks in submission order.
func (p *Pool) Tasks() []Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Task(nil), p.queue...)
}

func (p *Pool) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// LargestPoolSize is the highest number of workers alive at once.
func (p *Pool) LargestPoolSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.largest
}

// ActiveCount is the number of workers currently running a task.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started - p.idle
}

// Shutdown stops accepting tasks, lets workers finish the queue and waits
// for them until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) startWorkerLocked() {
	p.started++
	p.idle++
	if p.started > p.largest {
		p.largest = p.started
	}
	p.group.Go(func() error {
		p.work()
		return nil
	})
}

func (p *Pool) work() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.idle--
			p.started--
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.idle--
		p.mu.Unlock()

		p.run(task)

		p.mu.Lock()
		p.idle++
		p.mu.Unlock()
	}
}

func (p *Pool) run(task Task) {
	defer p.onPanic("executor.Pool.run")
	task.Run()
}
