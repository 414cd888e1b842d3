// Package pool runs CPU-bound jobs on a fixed set of workers.
package pool

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("pool: shut down")

type Task func()

type Pool struct {
	maxWorkers int
	taskQueue  chan Task
	wg         sync.WaitGroup
	quit       chan struct{}

	mu     sync.RWMutex
	closed bool
}

func New(maxWorkers, queueSize int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	p := &Pool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan Task, queueSize),
		quit:       make(chan struct{}),
	}
	p.start()
	return p
}

func (p *Pool) start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case task := <-p.taskQueue:
					task()
				case <-p.quit:
					// run whatever was accepted before shutdown
					for {
						select {
						case task := <-p.taskQueue:
							task()
						default:
							return
						}
					}
				}
			}
		}()
	}
}

// Submit queues task, blocking while the queue is full. Once Submit returns
// nil the task is guaranteed to run, even if Shutdown follows.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) QueueSize() int {
	return len(p.taskQueue)
}

func (p *Pool) Workers() int {
	return p.maxWorkers
}

// Shutdown stops accepting tasks, drains the queue and waits for workers.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.quit)
	p.wg.Wait()
}
