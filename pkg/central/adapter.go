package central

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/groutine"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/gatt"
)

// stateError returns the error reported for work attempted while the adapter
// is in state s, or nil when it is powered on.
func stateError(s gatt.AdapterState) *bleerror.Error {
	switch s {
	case gatt.AdapterPoweredOn:
		return nil
	case gatt.AdapterPoweredOff:
		return bleerror.New(bleerror.BluetoothPoweredOff, "bluetooth is powered off")
	case gatt.AdapterUnauthorized:
		return bleerror.New(bleerror.BluetoothUnauthorized, "bluetooth access is not authorized")
	case gatt.AdapterUnsupported:
		return bleerror.New(bleerror.BluetoothUnsupported, "bluetooth LE is not supported")
	case gatt.AdapterResetting:
		return bleerror.New(bleerror.BluetoothResetting, "bluetooth is resetting")
	default:
		return bleerror.New(bleerror.BluetoothInUnknownState, "bluetooth is in an unknown state")
	}
}

func (e *Engine) rootContext() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ctx
}

func (e *Engine) handleAdapterState(s gatt.AdapterState) {
	e.logger.WithField("state", s.String()).Info("Adapter state changed")

	if cause := stateError(s); cause != nil && s != gatt.AdapterUnknown {
		e.mu.RLock()
		conns := make([]*connection, 0, len(e.conns))
		for _, c := range e.conns {
			conns = append(conns, c)
		}
		e.mu.RUnlock()

		for _, c := range conns {
			e.teardown(c, cause.WithDevice(c.deviceID))
		}
		if len(conns) > 0 {
			e.logger.WithFields(logrus.Fields{
				"state":       s.String(),
				"connections": len(conns),
			}).Warn("Adapter left powered on state, connections dropped")
		}
	}

	e.mu.RLock()
	fn := e.onAdapterState
	e.mu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

// Enable powers the adapter on.
func (e *Engine) Enable(txID string) *Future[struct{}] {
	return e.setPower(txID, true)
}

// Disable powers the adapter off.
func (e *Engine) Disable(txID string) *Future[struct{}] {
	return e.setPower(txID, false)
}

func (e *Engine) setPower(txID string, on bool) *Future[struct{}] {
	if err := e.usable(); err != nil {
		return failed[struct{}](err)
	}

	fut := newFuture[struct{}]()
	op := track(e, e.rootContext(), txID, fut)
	groutine.Go(op.Context(), "adapter-power", func(ctx context.Context) {
		defer op.Release()

		err := e.radio.SetPower(ctx, on)
		if err != nil {
			converted := bleerror.Convert(err)
			e.logger.WithFields(logrus.Fields{
				"tx_id": txID,
				"on":    on,
				"error": converted,
			}).Error("Failed to change adapter power")
			fut.fail(converted)
			return
		}
		fut.succeed(struct{}{})
	})
	return fut
}
