package central

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/groutine"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/internal/opqueue"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/gatt"
)

// StateHandler receives the connection states of one device, in order, on a
// goroutine owned by that connection. err is set on the final Disconnected
// event when the link did not end at the caller's request.
type StateHandler func(state gatt.ConnectionState, err error)

// phase is the internal lifecycle of a connection. Callers only see the
// coarser gatt.ConnectionState.
type phase int

const (
	phaseIdle phase = iota
	phaseConnecting
	phaseConnected
	phaseRefreshingCache
	phaseDiscovering
	phaseReady
	phaseDisconnecting
	phaseDisconnected
)

func (p phase) String() string {
	switch p {
	case phaseConnecting:
		return "connecting"
	case phaseConnected:
		return "connected"
	case phaseRefreshingCache:
		return "refreshing_cache"
	case phaseDiscovering:
		return "discovering"
	case phaseReady:
		return "ready"
	case phaseDisconnecting:
		return "disconnecting"
	case phaseDisconnected:
		return "disconnected"
	default:
		return "idle"
	}
}

// live reports whether GATT operations may be issued in p.
func (p phase) live() bool {
	return p == phaseConnected || p == phaseDiscovering || p == phaseReady
}

type connection struct {
	deviceID string
	logger   *logrus.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	queue   *opqueue.Queue
	events  *opqueue.Queue
	onState StateHandler
	attempt *Future[gatt.Device]

	mu    sync.Mutex
	phase phase
	link  native.Link
	subs  map[int]*subscription

	closeOnce sync.Once
}

func newConnection(parent context.Context, deviceID string, onState StateHandler, logger *logrus.Logger) *connection {
	ctx, cancel := context.WithCancel(parent)
	return &connection{
		deviceID: deviceID,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		queue:    opqueue.New(ctx, "gatt:"+deviceID, logger),
		// State events outlive the connection context so Disconnected is
		// still delivered after teardown.
		events:  opqueue.New(context.Background(), "state:"+deviceID, logger),
		onState: onState,
		attempt: newFuture[gatt.Device](),
		phase:   phaseIdle,
		subs:    make(map[int]*subscription),
	}
}

func (c *connection) emit(state gatt.ConnectionState, err error) {
	if c.onState == nil {
		return
	}
	if submitErr := c.events.Submit(func(context.Context) { c.onState(state, err) }); submitErr != nil {
		c.logger.WithFields(logrus.Fields{
			"device_id": c.deviceID,
			"state":     state.String(),
		}).Debug("State event after disconnect dropped")
	}
}

func (c *connection) setPhase(p phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseDisconnected {
		c.phase = p
	}
}

func (c *connection) currentPhase() phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// attach stores the link unless the connection was torn down meanwhile.
func (c *connection) attach(link native.Link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseDisconnected || c.phase == phaseDisconnecting {
		return false
	}
	c.link = link
	return true
}

// promote marks a connecting connection usable.
func (c *connection) promote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseDisconnected || c.phase == phaseDisconnecting {
		return false
	}
	c.phase = phaseConnected
	return true
}

// usableLink returns the link when GATT operations are allowed.
func (c *connection) usableLink() (native.Link, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil || !c.phase.live() {
		return nil, false
	}
	return c.link, true
}

// close moves to Disconnected and hands back what teardown must release.
func (c *connection) close() (native.Link, []*monitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phaseDisconnected
	link := c.link
	c.link = nil
	var monitors []*monitor
	for id, s := range c.subs {
		for m := range s.monitors {
			monitors = append(monitors, m)
		}
		delete(c.subs, id)
	}
	return link, monitors
}

func notConnected(deviceID string) *bleerror.Error {
	return bleerror.New(bleerror.DeviceNotConnected, "device is not connected").WithDevice(deviceID)
}

func asError(e *bleerror.Error) error {
	if e == nil {
		return nil
	}
	return e
}

// Connect opens a connection to deviceID. A second call for a device that is
// connecting or connected fails at once with DeviceAlreadyConnected.
func (e *Engine) Connect(deviceID string, opts *ConnectOptions, onState StateHandler) *Future[gatt.Device] {
	if deviceID == "" {
		return failed[gatt.Device](bleerror.New(bleerror.InvalidIdentifiers, "empty device id"))
	}
	if err := e.usable(); err != nil {
		return failed[gatt.Device](err)
	}
	if cause := stateError(e.radio.State()); cause != nil {
		return failed[gatt.Device](cause.WithDevice(deviceID))
	}
	o := e.connectOptions(opts)

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return failed[gatt.Device](bleerror.New(bleerror.BluetoothManagerDestroyed, "client destroyed"))
	}
	if _, busy := e.conns[deviceID]; busy {
		e.mu.Unlock()
		e.logger.WithField("device_id", deviceID).Debug("Connect rejected, device already connected or connecting")
		return failed[gatt.Device](bleerror.New(bleerror.DeviceAlreadyConnected, "device is already connected or connecting").WithDevice(deviceID))
	}
	c := newConnection(e.ctx, deviceID, onState, e.logger)
	e.conns[deviceID] = c
	e.mu.Unlock()

	e.cache.EnsureDevice(deviceID)
	c.setPhase(phaseConnecting)
	c.emit(gatt.Connecting, nil)

	e.logger.WithFields(logrus.Fields{
		"device_id": deviceID,
		"timeout":   o.Timeout,
		"mtu":       o.RequestMTU,
		"priority":  o.ConnectionPriority,
	}).Info("Connecting to device")

	e.workers.Go(c.ctx, "connect:"+deviceID, func(context.Context) {
		e.establish(c, o)
	})
	return c.attempt
}

func (e *Engine) establish(c *connection, o ConnectOptions) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if o.Timeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, o.Timeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	defer cancel()

	link, err := e.radio.Connect(ctx, c.deviceID, native.LinkOptions{AutoConnect: o.AutoConnect})
	if err != nil {
		e.teardown(c, e.connectError(c, ctx, o, err))
		return
	}
	if !c.attach(link) {
		if err := link.Disconnect(); err != nil {
			e.logger.WithFields(logrus.Fields{
				"device_id": c.deviceID,
				"error":     err,
			}).Warn("Failed to drop link of a cancelled connection")
		}
		return
	}

	e.workers.Go(c.ctx, "link-monitor:"+c.deviceID, func(ctx context.Context) {
		select {
		case <-link.Disconnected():
			e.logger.WithField("device_id", c.deviceID).Info("Device disconnected")
			e.teardown(c, bleerror.New(bleerror.DeviceDisconnected, "device disconnected").WithDevice(c.deviceID))
		case <-ctx.Done():
		}
	})

	fields := logrus.Fields{"device_id": c.deviceID}

	if o.RefreshGattTiming == RefreshOnConnected {
		c.setPhase(phaseRefreshingCache)
		if err := link.RefreshCache(ctx); err != nil {
			e.logger.WithFields(fields).WithField("error", err).Warn("Failed to refresh GATT cache")
		}
	}
	if o.RequestMTU > 0 {
		granted, err := link.ExchangeMTU(ctx, o.RequestMTU)
		if err != nil {
			e.logger.WithFields(fields).WithFields(logrus.Fields{
				"mtu":   o.RequestMTU,
				"error": err,
			}).Warn("MTU exchange failed, keeping the default")
		} else {
			e.cache.SetMTU(c.deviceID, granted)
		}
	}
	if o.ConnectionPriority != PriorityBalanced {
		if err := link.RequestConnectionPriority(ctx, o.ConnectionPriority.native()); err != nil {
			e.logger.WithFields(fields).WithField("error", err).Warn("Failed to request connection priority")
		}
	}

	if err := ctx.Err(); err != nil {
		e.teardown(c, e.connectError(c, ctx, o, err))
		return
	}
	if !c.promote() {
		return
	}

	device, _ := e.cache.Device(c.deviceID)
	c.emit(gatt.Connected, nil)
	c.attempt.succeed(device)

	e.logger.WithFields(fields).WithField("mtu", device.MTU).Info("Device connected")
}

func (e *Engine) connectError(c *connection, ctx context.Context, o ConnectOptions, err error) *bleerror.Error {
	switch {
	case c.ctx.Err() != nil:
		return bleerror.New(bleerror.OperationCancelled, "connection cancelled").WithDevice(c.deviceID)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return bleerror.Newf(bleerror.OperationTimedOut, "connection timed out after %s", o.Timeout).
			WithDevice(c.deviceID).WithCause(err)
	}
	converted := bleerror.Convert(err)
	if converted.DeviceID == "" {
		converted = converted.WithDevice(c.deviceID)
	}
	return converted
}

// teardown runs once per connection. A nil cause means the caller asked for
// the disconnect.
func (e *Engine) teardown(c *connection, cause *bleerror.Error) {
	c.closeOnce.Do(func() {
		e.mu.Lock()
		if e.conns[c.deviceID] == c {
			delete(e.conns, c.deviceID)
		}
		e.cache.Purge(c.deviceID)
		e.mu.Unlock()

		link, monitors := c.close()
		for _, m := range monitors {
			m.end(cause)
		}
		c.cancel()
		c.queue.Close()

		if link != nil {
			if err := link.Disconnect(); err != nil {
				e.logger.WithFields(logrus.Fields{
					"device_id": c.deviceID,
					"error":     err,
				}).Warn("Failed to disconnect link")
			}
		}
		e.cache.SetMTU(c.deviceID, 0)

		attemptErr := cause
		if attemptErr == nil {
			attemptErr = bleerror.New(bleerror.OperationCancelled, "connection cancelled").WithDevice(c.deviceID)
		}
		c.attempt.fail(attemptErr)
		c.emit(gatt.Disconnected, asError(cause))
		c.events.Seal()

		entry := e.logger.WithFields(logrus.Fields{
			"device_id": c.deviceID,
			"monitors":  len(monitors),
		})
		if cause != nil {
			entry.WithField("error", cause).Info("Connection torn down")
		} else {
			entry.Info("Connection closed")
		}
	})
}

// CancelConnection aborts a pending connection attempt or closes a live one.
// The Future resolves with the device record once the link is down.
func (e *Engine) CancelConnection(deviceID string) *Future[gatt.Device] {
	if err := e.usable(); err != nil {
		return failed[gatt.Device](err)
	}

	e.mu.RLock()
	c := e.conns[deviceID]
	e.mu.RUnlock()
	if c == nil {
		return failed[gatt.Device](notConnected(deviceID))
	}

	e.logger.WithFields(logrus.Fields{
		"device_id": deviceID,
		"phase":     c.currentPhase().String(),
	}).Info("Disconnecting from device")
	c.setPhase(phaseDisconnecting)
	c.emit(gatt.Disconnecting, nil)

	fut := newFuture[gatt.Device]()
	groutine.Go(context.Background(), "cancel-connection:"+deviceID, func(context.Context) {
		e.teardown(c, nil)
		device, _ := e.cache.Device(deviceID)
		fut.succeed(device)
	})
	return fut
}

// live returns the connection of deviceID when GATT operations are allowed.
func (e *Engine) live(deviceID string) (*connection, native.Link, error) {
	e.mu.RLock()
	c := e.conns[deviceID]
	e.mu.RUnlock()
	if c == nil {
		return nil, nil, notConnected(deviceID)
	}
	link, ok := c.usableLink()
	if !ok {
		return nil, nil, notConnected(deviceID)
	}
	return c, link, nil
}

// IsDeviceConnected reports whether deviceID has a usable connection.
func (e *Engine) IsDeviceConnected(deviceID string) (bool, error) {
	if err := e.usable(); err != nil {
		return false, err
	}
	_, _, err := e.live(deviceID)
	return err == nil, nil
}

// RequestMTU negotiates a new MTU and resolves with the updated device.
func (e *Engine) RequestMTU(deviceID string, mtu int, txID string) *Future[gatt.Device] {
	if mtu <= 0 {
		return failed[gatt.Device](bleerror.Newf(bleerror.DeviceMTUChangeFailed, "invalid mtu %d", mtu).WithDevice(deviceID))
	}
	return deviceOp(e, deviceID, txID, "request_mtu", func(ctx context.Context, link native.Link) (gatt.Device, error) {
		granted, err := link.ExchangeMTU(ctx, mtu)
		if err != nil {
			return gatt.Device{}, err
		}
		return e.cache.SetMTU(deviceID, granted), nil
	})
}

// RequestConnectionPriority asks the stack for a connection interval preset.
func (e *Engine) RequestConnectionPriority(deviceID string, priority ConnectionPriority, txID string) *Future[gatt.Device] {
	return deviceOp(e, deviceID, txID, "request_priority", func(ctx context.Context, link native.Link) (gatt.Device, error) {
		if err := link.RequestConnectionPriority(ctx, priority.native()); err != nil {
			return gatt.Device{}, err
		}
		device, _ := e.cache.Device(deviceID)
		return device, nil
	})
}

// ReadRSSI reads the signal strength of the live link.
func (e *Engine) ReadRSSI(deviceID, txID string) *Future[gatt.Device] {
	return deviceOp(e, deviceID, txID, "read_rssi", func(ctx context.Context, link native.Link) (gatt.Device, error) {
		rssi, err := link.ReadRSSI(ctx)
		if err != nil {
			return gatt.Device{}, err
		}
		return e.cache.SetRSSI(deviceID, rssi), nil
	})
}

func deviceOp[T any](e *Engine, deviceID, txID, name string, fn func(ctx context.Context, link native.Link) (T, error)) *Future[T] {
	if err := e.usable(); err != nil {
		return failed[T](err)
	}
	c, link, err := e.live(deviceID)
	if err != nil {
		return failed[T](err)
	}
	return submit(e, c, link, txID, name, target{device: deviceID}, fn)
}
