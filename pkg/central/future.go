package central

import (
	"context"
	"sync/atomic"

	"github.com/srg/blecore/internal/groutine"
	"github.com/srg/blecore/pkg/bleerror"
)

// Status is how a Future ended.
type Status int

const (
	Succeeded Status = iota
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Outcome is the single result of a Future. Err is nil only on success.
type Outcome[T any] struct {
	Status Status
	Value  T
	Err    *bleerror.Error
}

// Result returns the outcome in the usual (value, error) shape.
func (o Outcome[T]) Result() (T, error) {
	if o.Err != nil {
		return o.Value, o.Err
	}
	return o.Value, nil
}

// Future is the pending result of an engine operation. It resolves exactly
// once: success, native failure and cancellation race for a single slot and
// only the first one is kept.
type Future[T any] struct {
	claimed atomic.Bool
	done    chan struct{}
	outcome Outcome[T]
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// failed returns a Future already resolved with err.
func failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	f.fail(err)
	return f
}

func (f *Future[T]) resolve(o Outcome[T]) bool {
	if !f.claimed.CompareAndSwap(false, true) {
		return false
	}
	f.outcome = o
	close(f.done)
	return true
}

func (f *Future[T]) succeed(v T) bool {
	return f.resolve(Outcome[T]{Status: Succeeded, Value: v})
}

func (f *Future[T]) fail(err error) bool {
	if f.claimed.Load() {
		return false
	}
	e := bleerror.Convert(err)
	if e == nil {
		e = bleerror.New(bleerror.UnknownError, "operation failed without an error")
	}
	status := Failed
	if e.Kind == bleerror.OperationCancelled {
		status = Cancelled
	}
	return f.resolve(Outcome[T]{Status: status, Err: e})
}

// Done is closed once the Future resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Outcome returns the result without blocking. ok is false while pending.
func (f *Future[T]) Outcome() (o Outcome[T], ok bool) {
	select {
	case <-f.done:
		return f.outcome, true
	default:
		return o, false
	}
}

// Wait blocks until the Future resolves or ctx ends. Giving up on ctx does not
// cancel the operation; use Engine.CancelTransaction for that.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.outcome.Result()
	case <-ctx.Done():
		var zero T
		return zero, bleerror.Convert(ctx.Err())
	}
}

// OnComplete runs fn once with the outcome, on its own goroutine.
func (f *Future[T]) OnComplete(fn func(Outcome[T])) {
	groutine.Go(context.Background(), "future-complete", func(context.Context) {
		<-f.done
		fn(f.outcome)
	})
}
