// Package txn keeps the table of in-flight cancellable operations keyed by
// caller-supplied transaction ids.
package txn

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handle is anything the registry can dispose.
type Handle interface {
	Dispose()
}

// Registry guarantees at most one live handle per transaction id. Every
// method takes the same lock so a dispose never races a register or remove
// on the same id.
type Registry struct {
	mu      sync.Mutex
	handles map[string]Handle
	logger  *logrus.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		handles: make(map[string]Handle),
		logger:  logger,
	}
}

// Register stores h under id, disposing any handle already registered there
// first. The new handle is cancellable as soon as Register returns.
func (r *Registry) Register(id string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.handles[id]; ok && old != h {
		r.logger.WithField("tx_id", id).Debug("Superseding in-flight transaction")
		old.Dispose()
	}
	r.handles[id] = h
}

// Cancel disposes and removes the handle under id. It reports whether one existed.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok {
		return false
	}
	delete(r.handles, id)
	h.Dispose()
	r.logger.WithField("tx_id", id).Debug("Transaction cancelled")
	return true
}

// Remove unregisters h after it completed. Nothing happens if id now holds a
// different handle.
func (r *Registry) Remove(id string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.handles[id]; ok && cur == h {
		delete(r.handles, id)
		return true
	}
	return false
}

// ClearAll disposes every registered handle.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, h := range r.handles {
		h.Dispose()
		delete(r.handles, id)
	}
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Operation is the handle the engine registers for every transaction. It owns
// the operation context; disposing it cancels that context and fires the
// cancellation callback at most once.
type Operation struct {
	ID       string
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	onCancel func()
}

// NewOperation derives the operation context from parent. onCancel may be nil;
// it must not call back into the Registry synchronously.
func NewOperation(parent context.Context, id string, onCancel func()) *Operation {
	ctx, cancel := context.WithCancel(parent)
	return &Operation{ID: id, ctx: ctx, cancel: cancel, onCancel: onCancel}
}

// Context returns the context native calls should run under.
func (o *Operation) Context() context.Context {
	return o.ctx
}

// Dispose implements Handle.
func (o *Operation) Dispose() {
	o.once.Do(func() {
		o.cancel()
		if o.onCancel != nil {
			o.onCancel()
		}
	})
}

// Release frees the operation context after normal completion without firing
// the cancellation callback.
func (o *Operation) Release() {
	o.once.Do(o.cancel)
}
