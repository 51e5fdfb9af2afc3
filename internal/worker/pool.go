// Package worker bounds how many dashboard scans run at once.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
)

const DefaultSize = 4

var (
	ErrPoolFull   = errors.New("too many scans running, try again later")
	ErrPoolClosed = errors.New("server is shutting down")
)

// Pool runs jobs on at most Size goroutines. Submission never blocks: a full
// pool rejects the job.
type Pool struct {
	mu     sync.Mutex
	group  errgroup.Group
	size   int
	closed bool
	active atomic.Int64
	logger *logger.Logger
}

func NewPool(size int, log *logger.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	if log == nil {
		log = logger.Nop()
	}

	p := &Pool{
		size:   size,
		logger: log.WithComponent("worker-pool"),
	}
	p.group.SetLimit(size)
	return p
}

// TrySubmit starts fn if a slot is free. A panic in fn is logged and the slot released.
func (p *Pool) TrySubmit(name string, fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	p.active.Add(1)
	started := p.group.TryGo(func() error {
		defer p.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.LogPanic(context.Background(), r, "worker job", "job", name)
			}
		}()
		fn()
		return nil
	})
	if !started {
		p.active.Add(-1)
		p.logger.Warnw("Worker pool full, job rejected", "job", name, "size", p.size)
		return ErrPoolFull
	}
	return nil
}

func (p *Pool) Active() int {
	return int(p.active.Load())
}

func (p *Pool) Size() int {
	return p.size
}

// Close stops accepting jobs and waits for running ones until ctx ends.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warnw("Timed out waiting for worker jobs", "active", p.Active())
		return ctx.Err()
	}
}
