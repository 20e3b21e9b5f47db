// Package worker provides the background task pool long-running pipeline
// work is submitted to. Submission, completion and panics are all logged,
// rather than running work as fire-and-forget goroutines.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned when submitting to a pool that has been shut
// down.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is one unit of background work. The context is canceled when the
// pool shuts down.
type Task func(ctx context.Context)

type job struct {
	name string
	task Task
}

// Pool runs submitted tasks on a fixed set of goroutines.
type Pool struct {
	jobs   chan job
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts size workers with a queue of the given depth.
func NewPool(size, queueDepth int, logger *logrus.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:   make(chan job, queueDepth),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run(i + 1)
	}
	return p
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		p.runOne(id, j)
	}
}

func (p *Pool) runOne(id int, j job) {
	log := p.logger.WithFields(logrus.Fields{
		"module": "worker",
		"worker": id,
		"task":   j.name,
	})
	started := time.Now()
	log.Debug("task started")

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("task panicked")
		}
	}()

	j.task(p.ctx)
	log.WithField("elapsed", time.Since(started).String()).Debug("task finished")
}

// Submit queues a task. It blocks while the queue is full so upload bursts
// apply backpressure instead of piling up goroutines.
func (p *Pool) Submit(name string, task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.jobs <- job{name: name, task: task}:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Shutdown stops accepting work, cancels the task context and waits for
// in-flight tasks to finish or the passed context to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
