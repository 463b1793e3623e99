package workerpool

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned by Submit once the pool has been closed.
var ErrClosed = errors.New("worker pool is closed")

// Task is a unit of work. The context is the pool's context.
type Task func(ctx context.Context)

// Pool runs submitted tasks on a fixed number of workers.
type Pool struct {
	ctx   context.Context
	size  int
	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts a pool of size workers (at least one) bound to ctx.
func New(ctx context.Context, size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		ctx:   ctx,
		size:  size,
		tasks: make(chan Task, size*2), // Buffer size = 2x workers
	}

	log.Debugf("Starting worker pool with %d workers", size)
	for i := 1; i <= size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Submit queues task, blocking while the queue is full.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	log.Debug("Worker pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(id, task)
	}
	log.Debugf("[Worker-%d] Job queue closed, exiting", id)
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Worker-%d] Task panicked: %v", id, r)
		}
	}()
	task(p.ctx)
}
