package echoserver

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool closed")

// pool executes submitted tasks on a fixed number of reusable workers.
// The queue is a bounded buffered channel; Submit blocks while it is full.
// A panic in one task is contained to that task and never takes down a
// worker.
type pool struct {
	tasks  chan func()
	done   chan struct{}
	logger Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// queuePerWorker sizes the task queue relative to the worker count.
const queuePerWorker = 16

// newPool starts a pool with the given number of workers.
func newPool(workers int, logger Logger) *pool {
	p := &pool{
		tasks:  make(chan func(), workers*queuePerWorker),
		done:   make(chan struct{}),
		logger: logger,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// worker executes tasks sequentially until the pool closes, then drains
// whatever is still queued before exiting.
func (p *pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.tasks:
			p.run(task)
		case <-p.done:
			for {
				select {
				case task := <-p.tasks:
					p.run(task)
				default:
					return
				}
			}
		}
	}
}

// run executes one task, containing any panic to that task.
func (p *pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panic", "panic", r)
		}
	}()

	task()
}

// Submit enqueues a task for execution by one of the workers. It blocks
// while the queue is full and returns ErrPoolClosed once the pool has been
// closed.
func (p *pool) Submit(task func()) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.done:
		return ErrPoolClosed
	}
}

// Close stops intake, lets queued tasks finish, and waits for all workers
// to return. Safe to call multiple times.
func (p *pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
