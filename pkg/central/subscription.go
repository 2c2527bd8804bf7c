package central

import (
	"context"
	"fmt"
	"slices"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/cache"
	"github.com/srg/blecore/internal/groutine"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/internal/txn"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/gatt"
)

// subscription is one native notify/indicate registration shared by every
// monitor of the same characteristic.
type subscription struct {
	char     cache.CharacteristicHandle
	indicate bool
	monitors map[*monitor]struct{}
}

// monitor is one caller's stream of values. Values pass through an
// overlapped ring so the native callback never waits on the caller; a slow
// caller loses the oldest values.
type monitor struct {
	charID  int
	char    gatt.Characteristic
	fut     *Future[struct{}]
	op      *txn.Operation
	onValue func(gatt.Characteristic)
	buf     mpmc.RichOverlappedRingBuffer[[]byte]
	poke    chan struct{}
	logger  *logrus.Logger
}

func (m *monitor) push(value []byte) {
	if _, err := m.buf.EnqueueM(slices.Clone(value)); err != nil {
		m.logger.WithFields(logrus.Fields{
			"char_uuid": m.char.UUID,
			"error":     err,
		}).Warn("Dropping notification")
		return
	}
	select {
	case m.poke <- struct{}{}:
	default:
	}
}

// end resolves the monitor. A nil cause means the caller stopped it.
func (m *monitor) end(cause *bleerror.Error) {
	if cause == nil {
		m.fut.fail(bleerror.New(bleerror.OperationCancelled, "monitor cancelled"))
	} else {
		m.fut.fail(cause)
	}
	m.op.Dispose()
}

func (m *monitor) deliver(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{
				"char_uuid": m.char.UUID,
				"panic":     r,
			}).Error("Monitor callback panicked")
			m.end(bleerror.Newf(bleerror.UnknownError, "monitor callback panicked: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.poke:
		}
		for !m.buf.IsEmpty() {
			value, err := m.buf.Dequeue()
			if err != nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			ch := m.char.Clone()
			ch.Value = value
			ch.IsNotifying = true
			m.onValue(ch)
		}
	}
}

// pickMode resolves the hint against what the characteristic supports.
func pickMode(ch gatt.Characteristic, hint MonitorHint) (indicate bool, err error) {
	switch {
	case hint == MonitorIndication && ch.IsIndicatable:
		return true, nil
	case hint != MonitorIndication && ch.IsNotifiable:
		return false, nil
	case ch.IsIndicatable:
		return true, nil
	case ch.IsNotifiable:
		return false, nil
	}
	return false, characteristicTarget(ch).decorate(
		bleerror.New(bleerror.CharacteristicNotifyChangeFailed, "characteristic supports neither notifications nor indications"))
}

// MonitorCharacteristic streams value changes to onValue until txID is
// cancelled or the connection ends. The Future never succeeds: it resolves
// Cancelled when the caller stops the monitor and Failed otherwise.
//
// Monitors of the same characteristic share one native subscription; the
// last one to stop unsubscribes.
func (e *Engine) MonitorCharacteristic(ref CharacteristicRef, hint MonitorHint, txID string, onValue func(gatt.Characteristic)) *Future[struct{}] {
	if err := e.usable(); err != nil {
		return failed[struct{}](err)
	}
	h, c, link, err := e.resolveCharacteristic(ref)
	if err != nil {
		return failed[struct{}](err)
	}
	indicate, err := pickMode(h.Characteristic, hint)
	if err != nil {
		return failed[struct{}](err)
	}
	if onValue == nil {
		onValue = func(gatt.Characteristic) {}
	}

	fut := newFuture[struct{}]()
	m := &monitor{
		charID:  h.Characteristic.ID,
		char:    h.Characteristic,
		fut:     fut,
		onValue: onValue,
		buf:     mpmc.NewOverlappedRingBuffer[[]byte](e.cfg.EventBufferSize),
		poke:    make(chan struct{}, 1),
		logger:  e.logger,
	}
	m.op = track(e, c.ctx, txID, fut)

	fields := characteristicTarget(h.Characteristic).fields()
	fields["tx_id"] = txID
	fields["indicate"] = indicate

	groutine.Go(m.op.Context(), fmt.Sprintf("monitor:%s:%d", c.deviceID, m.charID), m.deliver)
	context.AfterFunc(m.op.Context(), func() {
		e.detach(c, m)
	})

	err = c.queue.Submit(func(qctx context.Context) {
		ctx := m.op.Context()
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if s, ok := c.subs[m.charID]; ok {
			if ctx.Err() == nil {
				s.monitors[m] = struct{}{}
			}
			c.mu.Unlock()
			e.logger.WithFields(fields).Debug("Monitor joined existing subscription")
			return
		}
		c.mu.Unlock()

		err := link.Subscribe(ctx, h.Native, indicate, func(value []byte) {
			e.fanout(c, m.charID, value)
		})
		if err != nil {
			if ctx.Err() == nil {
				converted := characteristicTarget(h.Characteristic).decorate(bleerror.Convert(err))
				e.logger.WithFields(fields).WithField("error", converted).Error("Failed to enable notifications")
				m.end(converted)
			}
			return
		}

		c.mu.Lock()
		s := &subscription{char: h, indicate: indicate, monitors: make(map[*monitor]struct{})}
		if ctx.Err() == nil {
			s.monitors[m] = struct{}{}
			c.subs[m.charID] = s
		}
		orphan := len(s.monitors) == 0
		c.mu.Unlock()

		if orphan {
			e.unsubscribe(qctx, c, link, s)
			return
		}
		e.setNotifying(m.charID, true)
		e.logger.WithFields(fields).Info("Notifications enabled")
	})
	if err != nil {
		m.end(notConnected(c.deviceID))
	}
	return fut
}

// fanout stores a notified value once and hands it to every monitor.
func (e *Engine) fanout(c *connection, charID int, value []byte) {
	c.mu.Lock()
	s := c.subs[charID]
	var monitors []*monitor
	if s != nil {
		for m := range s.monitors {
			monitors = append(monitors, m)
		}
	}
	c.mu.Unlock()

	e.mu.RLock()
	e.cache.SetCharacteristicValue(charID, value)
	e.mu.RUnlock()

	for _, m := range monitors {
		m.push(value)
	}
}

// detach removes m from its subscription and unsubscribes when it was the
// last monitor.
func (e *Engine) detach(c *connection, m *monitor) {
	c.mu.Lock()
	s, ok := c.subs[m.charID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if _, member := s.monitors[m]; !member {
		c.mu.Unlock()
		return
	}
	delete(s.monitors, m)
	last := len(s.monitors) == 0
	if last {
		delete(c.subs, m.charID)
	}
	link := c.link
	c.mu.Unlock()

	if !last || link == nil {
		return
	}
	if err := c.queue.Submit(func(ctx context.Context) {
		c.mu.Lock()
		_, again := c.subs[m.charID]
		c.mu.Unlock()
		if again {
			return
		}
		e.unsubscribe(ctx, c, link, s)
	}); err != nil {
		e.logger.WithField("device_id", c.deviceID).Debug("Connection closed before unsubscribe")
	}
}

func (e *Engine) unsubscribe(ctx context.Context, c *connection, link native.Link, s *subscription) {
	if err := link.Unsubscribe(ctx, s.char.Native, s.indicate); err != nil {
		e.logger.WithFields(logrus.Fields{
			"device_id": c.deviceID,
			"char_uuid": s.char.Characteristic.UUID,
			"error":     err,
		}).Warn("Failed to disable notifications")
	}
	e.setNotifying(s.char.Characteristic.ID, false)
	e.logger.WithFields(logrus.Fields{
		"device_id": c.deviceID,
		"char_uuid": s.char.Characteristic.UUID,
	}).Debug("Notifications disabled")
}

func (e *Engine) setNotifying(charID int, on bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.cache.SetNotifying(charID, on)
}
