// Package opqueue provides the per-device FIFO that serializes native GATT
// calls. One Queue belongs to one connection; jobs run one at a time in
// submission order on a single worker goroutine.
package opqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/groutine"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("operation queue closed")

// Job is one unit of work. ctx is cancelled when the queue closes.
type Job func(ctx context.Context)

// Queue is a single-worker FIFO.
type Queue struct {
	name   string
	logger *logrus.Logger

	mu      sync.Mutex
	pending []Job
	closed  bool
	sealed  bool
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the worker for a queue named name.
func New(parent context.Context, name string, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	groutine.Go(ctx, "opqueue:"+name, q.run)
	return q
}

// Submit appends job to the queue.
func (q *Queue) Submit(job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of jobs not yet started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting jobs, drops the ones not yet started and cancels the
// context of the running one. It does not wait; use Done for that.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed && !q.sealed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.sealed = false
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	if dropped > 0 {
		q.logger.WithFields(logrus.Fields{
			"queue":   q.name,
			"dropped": dropped,
		}).Debug("Operation queue closed with pending jobs")
	}
}

// Seal stops accepting jobs but lets the pending ones run. The worker exits
// once the queue is empty.
func (q *Queue) Seal() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.sealed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the worker has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	for {
		job, ok, sealed := q.pop()
		if !ok {
			if sealed {
				q.cancel()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		q.exec(ctx, job)
	}
}

func (q *Queue) pop() (Job, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false, q.sealed
	}
	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return job, true, q.sealed
}

func (q *Queue) exec(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithFields(logrus.Fields{
				"queue":     q.name,
				"goroutine": groutine.GetName(ctx),
				"panic":     r,
			}).Error("Operation panicked")
		}
	}()
	job(ctx)
}
