package server

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool runs tasks on a fixed number of workers. Submit never blocks; tasks
// queue until a worker is free. With one worker, tasks run in submission
// order.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	size  int
	group errgroup.Group
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{size: size}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < size; i++ {
		p.group.Go(p.work)
	}
	return p
}

func (p *Pool) Size() int { return p.size }

// Submit queues task. It reports false once the pool is stopped.
func (p *Pool) Submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return true
}

// Close rejects new tasks. Workers exit once the queue is drained; Close does
// not wait for them.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Stop closes the pool and waits for the workers to exit.
func (p *Pool) Stop() {
	p.Close()
	_ = p.group.Wait()
}

func (p *Pool) work() error {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return nil
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		task()
	}
}
