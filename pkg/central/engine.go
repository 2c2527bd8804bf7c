// Package central is the BLE central-role engine.
//
// An Engine owns everything a session knows: the device cache, the stable
// attribute ids, the live connections and the in-flight transactions. It
// talks to the radio only through internal/native, so the same engine runs on
// go-ble or on the in-memory fake used in tests.
//
// Operations that touch a peripheral return a *Future. Each one is queued on
// its device's FIFO, may be cancelled through the transaction id it was
// started with, and resolves exactly once.
package central

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/cache"
	"github.com/srg/blecore/internal/groutine"
	"github.com/srg/blecore/internal/identity"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/internal/txn"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/config"
	"github.com/srg/blecore/pkg/gatt"
)

// Engine is safe for concurrent use.
type Engine struct {
	radio  native.Radio
	cfg    *config.Config
	logger *logrus.Logger

	ids   *identity.Registry
	cache *cache.Cache
	txns  *txn.Registry

	// mu guards the connection table and the client lifecycle. Teardown
	// holds it for writing while it purges the cache.
	mu             sync.RWMutex
	conns          map[string]*connection
	destroyed      bool
	onAdapterState func(gatt.AdapterState)
	ctx            context.Context
	cancel         context.CancelFunc

	scanMu sync.Mutex
	scan   *scanSession

	// workers are the per-connection goroutines DestroyClient waits for.
	workers groutine.Group
}

// New creates an engine driving radio.
func New(radio native.Radio, opts ...Option) *Engine {
	e := &Engine{
		radio:  radio,
		cfg:    config.DefaultConfig(),
		logger: logrus.New(),
		conns:  make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ids = identity.New()
	e.cache = cache.New(e.logger)
	e.txns = txn.NewRegistry(e.logger)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// CreateClient starts listening to the adapter. onAdapterState receives every
// state change. When restoreID is non-empty, onRestored is called once with
// the devices the radio still holds connections to.
//
// Calling CreateClient after DestroyClient starts a fresh session.
func (e *Engine) CreateClient(restoreID string, onAdapterState func(gatt.AdapterState), onRestored func([]gatt.Device)) error {
	e.mu.Lock()
	if e.destroyed {
		e.ctx, e.cancel = context.WithCancel(context.Background())
		e.destroyed = false
	}
	e.onAdapterState = onAdapterState
	ctx := e.ctx
	e.mu.Unlock()

	e.radio.OnStateChange(e.handleAdapterState)

	e.logger.WithFields(logrus.Fields{
		"restore_id": restoreID,
		"state":      e.radio.State().String(),
	}).Info("BLE client created")

	if restoreID != "" && onRestored != nil {
		restored := e.connectedSnapshot(nil)
		groutine.Go(ctx, "restore:"+restoreID, func(context.Context) {
			onRestored(restored)
		})
	}
	return nil
}

// DestroyClient stops scanning, tears down every connection and cancels every
// outstanding operation. Later calls fail with BluetoothManagerDestroyed until
// CreateClient is called again.
func (e *Engine) DestroyClient() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.onAdapterState = nil
	conns := make([]*connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	e.radio.OnStateChange(nil)
	e.stopScan()

	destroyed := bleerror.New(bleerror.BluetoothManagerDestroyed, "client destroyed")
	for _, c := range conns {
		e.teardown(c, destroyed)
	}
	e.txns.ClearAll()
	e.cancel()
	e.workers.Wait()
	e.cache.Clear()
	e.ids.Reset()

	e.logger.WithField("connections", len(conns)).Info("BLE client destroyed")
}

// usable rejects calls on a destroyed client.
func (e *Engine) usable() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.destroyed {
		return bleerror.New(bleerror.BluetoothManagerDestroyed, "client destroyed")
	}
	return nil
}

// State returns the adapter state.
func (e *Engine) State() gatt.AdapterState {
	return e.radio.State()
}

// CancelTransaction cancels the operation registered under id. The operation
// resolves as OperationCancelled before this returns.
func (e *Engine) CancelTransaction(id string) bool {
	ok := e.txns.Cancel(id)
	e.logger.WithFields(logrus.Fields{
		"tx_id":     id,
		"cancelled": ok,
	}).Debug("Cancel transaction requested")
	return ok
}

var logLevels = map[string]logrus.Level{
	"none":    logrus.PanicLevel,
	"verbose": logrus.TraceLevel,
	"debug":   logrus.DebugLevel,
	"info":    logrus.InfoLevel,
	"warning": logrus.WarnLevel,
	"error":   logrus.ErrorLevel,
}

// SetLogLevel accepts none, verbose, debug, info, warning, error and any
// logrus level name.
func (e *Engine) SetLogLevel(level string) error {
	name := strings.ToLower(strings.TrimSpace(level))
	lvl, ok := logLevels[name]
	if !ok {
		parsed, err := logrus.ParseLevel(name)
		if err != nil {
			return bleerror.Newf(bleerror.UnknownError, "unknown log level %q", level)
		}
		lvl = parsed
	}
	e.logger.SetLevel(lvl)
	return nil
}

// LogLevel returns the current level in engine terms.
func (e *Engine) LogLevel() string {
	switch lvl := e.logger.GetLevel(); lvl {
	case logrus.PanicLevel, logrus.FatalLevel:
		return "none"
	case logrus.TraceLevel:
		return "verbose"
	case logrus.WarnLevel:
		return "warning"
	default:
		return lvl.String()
	}
}

// track registers op under txID and makes cancellation resolve fut. Parent
// cancellation (connection loss, client teardown) resolves fut the same way.
func track[T any](e *Engine, parent context.Context, txID string, fut *Future[T]) *txn.Operation {
	op := txn.NewOperation(parent, txID, func() {
		fut.fail(bleerror.New(bleerror.OperationCancelled, "operation cancelled"))
	})
	if txID != "" {
		e.txns.Register(txID, op)
	}
	context.AfterFunc(op.Context(), func() {
		fut.fail(bleerror.New(bleerror.OperationCancelled, "operation cancelled"))
		if txID != "" {
			e.txns.Remove(txID, op)
		}
	})
	return op
}
