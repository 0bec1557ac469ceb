package consume

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Pool runs tasks for asynchronous dispatch.
//
// Submit must not block the caller. Queueing and backpressure are the
// pool's business; the Dispatcher only submits.
type Pool interface {
	Submit(task func()) error
}

// PoolFunc is a function adapter for Pool.
type PoolFunc func(task func()) error

// Submit implements the Pool interface.
func (f PoolFunc) Submit(task func()) error { return f(task) }

// WorkerPool is a fixed number of workers reading from an unbounded FIFO
// queue. Submit appends to the queue and returns at once.
//
// A panicking task is recovered and logged; the worker keeps running.
type WorkerPool struct {
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	wg sync.WaitGroup
}

// NewWorkerPool starts a pool with the given number of workers. Values
// below 1 start a single worker. A nil logger discards.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &WorkerPool{logger: logger}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for range workers {
		go p.work()
	}
	return p
}

// Submit queues task. It returns ErrPoolClosed after Close.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return nil
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops accepting tasks and waits for queued and running tasks to
// finish. It is safe to call more than once.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.run(task)
	}
}

// next blocks until a task is queued or the pool is closed and drained.
func (p *WorkerPool) next() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return task, true
}

func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Value: r, Stack: string(debug.Stack())}
			p.logger.Error("pool task panicked", "error", err, "stack", err.Stack)
		}
	}()
	task()
}

// GoPool returns a Pool that starts a goroutine per task.
func GoPool() Pool {
	return PoolFunc(func(task func()) error {
		if task == nil {
			return fmt.Errorf("submit: nil task")
		}
		go task()
		return nil
	})
}
