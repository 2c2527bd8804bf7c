package central

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/cache"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/bleuuid"
	"github.com/srg/blecore/pkg/gatt"
)

type refMode int

const (
	refByDevice refMode = iota
	refByService
	refByID
)

// CharacteristicRef addresses a characteristic by device and UUIDs, by
// service id and UUID, or by characteristic id. All three resolve to the same
// cached entry.
type CharacteristicRef struct {
	mode        refMode
	deviceID    string
	serviceUUID string
	charUUID    string
	serviceID   int
	charID      int
}

// ByDevice addresses a characteristic through its device and service UUID.
func ByDevice(deviceID, serviceUUID, charUUID string) CharacteristicRef {
	return CharacteristicRef{mode: refByDevice, deviceID: deviceID, serviceUUID: serviceUUID, charUUID: charUUID}
}

// ByService addresses a characteristic inside a discovered service.
func ByService(serviceID int, charUUID string) CharacteristicRef {
	return CharacteristicRef{mode: refByService, serviceID: serviceID, charUUID: charUUID}
}

// ByCharacteristicID addresses a characteristic by its id.
func ByCharacteristicID(id int) CharacteristicRef {
	return CharacteristicRef{mode: refByID, charID: id}
}

// Descriptor addresses a descriptor of the referenced characteristic.
func (r CharacteristicRef) Descriptor(descUUID string) DescriptorRef {
	return DescriptorRef{char: r, descUUID: descUUID}
}

func (r CharacteristicRef) String() string {
	switch r.mode {
	case refByService:
		return fmt.Sprintf("service#%d/%s", r.serviceID, r.charUUID)
	case refByID:
		return fmt.Sprintf("characteristic#%d", r.charID)
	default:
		return fmt.Sprintf("%s/%s/%s", r.deviceID, r.serviceUUID, r.charUUID)
	}
}

// DescriptorRef addresses a descriptor.
type DescriptorRef struct {
	char     CharacteristicRef
	descUUID string
	descID   int
	byID     bool
}

// ByCharacteristic addresses a descriptor of a characteristic id.
func ByCharacteristic(charID int, descUUID string) DescriptorRef {
	return ByCharacteristicID(charID).Descriptor(descUUID)
}

// ByDescriptorID addresses a descriptor by its id.
func ByDescriptorID(id int) DescriptorRef {
	return DescriptorRef{descID: id, byID: true}
}

func (r DescriptorRef) String() string {
	if r.byID {
		return fmt.Sprintf("descriptor#%d", r.descID)
	}
	return r.char.String() + "/" + r.descUUID
}

// target is what an operation's errors are about.
type target struct {
	device         string
	service        string
	characteristic string
	descriptor     string
}

func characteristicTarget(ch gatt.Characteristic) target {
	return target{device: ch.DeviceID, service: ch.ServiceUUID, characteristic: ch.UUID}
}

func descriptorTarget(d gatt.Descriptor) target {
	return target{device: d.DeviceID, service: d.ServiceUUID, characteristic: d.CharacteristicUUID, descriptor: d.UUID}
}

// decorate fills context the native failure did not carry.
func (t target) decorate(err *bleerror.Error) *bleerror.Error {
	if t.device != "" && err.DeviceID == "" {
		err = err.WithDevice(t.device)
	}
	if t.service != "" && err.ServiceUUID == "" {
		err = err.WithService(t.service)
	}
	if t.characteristic != "" && err.CharacteristicUUID == "" {
		err = err.WithCharacteristic(t.characteristic)
	}
	if t.descriptor != "" && err.DescriptorUUID == "" {
		err = err.WithDescriptor(t.descriptor)
	}
	return err
}

func (t target) fields() logrus.Fields {
	f := logrus.Fields{"device_id": t.device}
	if t.characteristic != "" {
		f["char_uuid"] = t.characteristic
	}
	if t.descriptor != "" {
		f["desc_uuid"] = t.descriptor
	}
	return f
}

// submit queues fn on the device FIFO under txID. The Future resolves once
// with fn's result, its converted error, or OperationCancelled when the
// transaction is cancelled or the connection goes away first.
func submit[T any](e *Engine, c *connection, link native.Link, txID, name string, t target, fn func(ctx context.Context, link native.Link) (T, error)) *Future[T] {
	fut := newFuture[T]()
	op := track(e, c.ctx, txID, fut)
	fields := t.fields()
	fields["tx_id"] = txID
	fields["op"] = name

	err := c.queue.Submit(func(context.Context) {
		defer op.Release()

		ctx := op.Context()
		if ctx.Err() != nil {
			return
		}
		v, err := fn(ctx, link)
		if err != nil {
			select {
			case <-link.Disconnected():
				// teardown cancels ctx and resolves the future
				<-ctx.Done()
				return
			default:
			}
			if ctx.Err() != nil {
				return
			}
			converted := t.decorate(bleerror.Convert(err))
			e.logger.WithFields(fields).WithField("error", converted).Error("GATT operation failed")
			fut.fail(converted)
			return
		}
		fut.succeed(v)
		e.logger.WithFields(fields).Debug("GATT operation completed")
	})
	if err != nil {
		fut.fail(notConnected(t.device))
		op.Release()
	}
	return fut
}

func (e *Engine) resolveCharacteristic(ref CharacteristicRef) (cache.CharacteristicHandle, *connection, native.Link, error) {
	var h cache.CharacteristicHandle
	switch ref.mode {
	case refByDevice:
		c, link, err := e.live(ref.deviceID)
		if err != nil {
			return h, nil, nil, err
		}
		svc, err := bleuuid.Canonicalize(ref.serviceUUID)
		if err != nil {
			return h, nil, nil, err
		}
		ch, err := bleuuid.Canonicalize(ref.charUUID)
		if err != nil {
			return h, nil, nil, err
		}
		h, err = e.cache.CharacteristicByUUID(ref.deviceID, svc, ch)
		return h, c, link, err
	case refByService:
		ch, err := bleuuid.Canonicalize(ref.charUUID)
		if err != nil {
			return h, nil, nil, err
		}
		if err = e.liveOwner(ref.serviceID); err != nil {
			return h, nil, nil, err
		}
		if h, err = e.cache.CharacteristicInService(ref.serviceID, ch); err != nil {
			return h, nil, nil, err
		}
	default:
		if err := e.liveOwner(ref.charID); err != nil {
			return h, nil, nil, err
		}
		var err error
		if h, err = e.cache.CharacteristicByID(ref.charID); err != nil {
			return h, nil, nil, err
		}
	}
	c, link, err := e.live(h.Characteristic.DeviceID)
	return h, c, link, err
}

func (e *Engine) resolveDescriptor(ref DescriptorRef) (cache.DescriptorHandle, *connection, native.Link, error) {
	var h cache.DescriptorHandle
	if ref.byID {
		if err := e.liveOwner(ref.descID); err != nil {
			return h, nil, nil, err
		}
		var err error
		if h, err = e.cache.DescriptorByID(ref.descID); err != nil {
			return h, nil, nil, err
		}
		c, link, err := e.live(h.Descriptor.DeviceID)
		return h, c, link, err
	}

	desc, err := bleuuid.Canonicalize(ref.descUUID)
	if err != nil {
		return h, nil, nil, err
	}
	var ch string
	if ref.char.mode != refByID {
		if ch, err = bleuuid.Canonicalize(ref.char.charUUID); err != nil {
			return h, nil, nil, err
		}
	}

	switch ref.char.mode {
	case refByDevice:
		c, link, err := e.live(ref.char.deviceID)
		if err != nil {
			return h, nil, nil, err
		}
		svc, err := bleuuid.Canonicalize(ref.char.serviceUUID)
		if err != nil {
			return h, nil, nil, err
		}
		h, err = e.cache.DescriptorByUUID(ref.char.deviceID, svc, ch, desc)
		return h, c, link, err
	case refByService:
		if err = e.liveOwner(ref.char.serviceID); err != nil {
			return h, nil, nil, err
		}
		if h, err = e.cache.DescriptorInService(ref.char.serviceID, ch, desc); err != nil {
			return h, nil, nil, err
		}
	default:
		if err = e.liveOwner(ref.char.charID); err != nil {
			return h, nil, nil, err
		}
		if h, err = e.cache.DescriptorInCharacteristic(ref.char.charID, desc); err != nil {
			return h, nil, nil, err
		}
	}
	c, link, err := e.live(h.Descriptor.DeviceID)
	return h, c, link, err
}

// storeCharacteristic records a value read or written. The snapshot falls
// back to h when the topology was replaced meanwhile.
func (e *Engine) storeCharacteristic(h cache.CharacteristicHandle, value []byte, mode *gatt.WriteMode) gatt.Characteristic {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if mode != nil {
		e.cache.SetWriteMode(h.Characteristic.ID, *mode)
	}
	if ch, ok := e.cache.SetCharacteristicValue(h.Characteristic.ID, value); ok {
		return ch
	}
	out := h.Characteristic.Clone()
	out.Value = slices.Clone(value)
	if mode != nil {
		out.WriteMode = *mode
	}
	return out
}

func (e *Engine) storeDescriptor(h cache.DescriptorHandle, value []byte) gatt.Descriptor {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if d, ok := e.cache.SetDescriptorValue(h.Descriptor.ID, value); ok {
		return d
	}
	out := h.Descriptor.Clone()
	out.Value = slices.Clone(value)
	return out
}

// ReadCharacteristic reads the current value.
func (e *Engine) ReadCharacteristic(ref CharacteristicRef, txID string) *Future[gatt.Characteristic] {
	if err := e.usable(); err != nil {
		return failed[gatt.Characteristic](err)
	}
	h, c, link, err := e.resolveCharacteristic(ref)
	if err != nil {
		return failed[gatt.Characteristic](err)
	}

	return submit(e, c, link, txID, "read_characteristic", characteristicTarget(h.Characteristic),
		func(ctx context.Context, link native.Link) (gatt.Characteristic, error) {
			value, err := link.ReadCharacteristic(ctx, h.Native)
			if err != nil {
				return gatt.Characteristic{}, err
			}
			return e.storeCharacteristic(h, value, nil), nil
		})
}

// WriteCharacteristic writes a base64 encoded value. A payload that does not
// decode fails with CharacteristicInvalidDataFormat before anything is sent.
func (e *Engine) WriteCharacteristic(ref CharacteristicRef, valueBase64 string, withResponse bool, txID string) *Future[gatt.Characteristic] {
	if err := e.usable(); err != nil {
		return failed[gatt.Characteristic](err)
	}
	data, err := base64.StdEncoding.DecodeString(valueBase64)
	if err != nil {
		return failed[gatt.Characteristic](bleerror.Newf(bleerror.CharacteristicInvalidDataFormat,
			"value is not valid base64: %v", err).WithCause(err))
	}
	h, c, link, err := e.resolveCharacteristic(ref)
	if err != nil {
		return failed[gatt.Characteristic](err)
	}

	mode := gatt.WriteWithResponse
	if !withResponse {
		mode = gatt.WriteWithoutResponse
	}
	return submit(e, c, link, txID, "write_characteristic", characteristicTarget(h.Characteristic),
		func(ctx context.Context, link native.Link) (gatt.Characteristic, error) {
			if err := link.WriteCharacteristic(ctx, h.Native, data, withResponse); err != nil {
				return gatt.Characteristic{}, err
			}
			return e.storeCharacteristic(h, data, &mode), nil
		})
}

// ReadDescriptor reads the current descriptor value.
func (e *Engine) ReadDescriptor(ref DescriptorRef, txID string) *Future[gatt.Descriptor] {
	if err := e.usable(); err != nil {
		return failed[gatt.Descriptor](err)
	}
	h, c, link, err := e.resolveDescriptor(ref)
	if err != nil {
		return failed[gatt.Descriptor](err)
	}

	return submit(e, c, link, txID, "read_descriptor", descriptorTarget(h.Descriptor),
		func(ctx context.Context, link native.Link) (gatt.Descriptor, error) {
			value, err := link.ReadDescriptor(ctx, h.Native)
			if err != nil {
				return gatt.Descriptor{}, err
			}
			return e.storeDescriptor(h, value), nil
		})
}

// WriteDescriptor writes a base64 encoded value. The client characteristic
// configuration descriptor belongs to monitors and cannot be written.
func (e *Engine) WriteDescriptor(ref DescriptorRef, valueBase64 string, txID string) *Future[gatt.Descriptor] {
	if err := e.usable(); err != nil {
		return failed[gatt.Descriptor](err)
	}
	data, err := base64.StdEncoding.DecodeString(valueBase64)
	if err != nil {
		return failed[gatt.Descriptor](bleerror.Newf(bleerror.DescriptorInvalidDataFormat,
			"value is not valid base64: %v", err).WithCause(err))
	}
	h, c, link, err := e.resolveDescriptor(ref)
	if err != nil {
		return failed[gatt.Descriptor](err)
	}
	if h.Descriptor.UUID == bleuuid.CCCD {
		return failed[gatt.Descriptor](descriptorTarget(h.Descriptor).decorate(
			bleerror.New(bleerror.DescriptorWriteNotAllowed, "client characteristic configuration is managed by monitors")))
	}

	return submit(e, c, link, txID, "write_descriptor", descriptorTarget(h.Descriptor),
		func(ctx context.Context, link native.Link) (gatt.Descriptor, error) {
			if err := link.WriteDescriptor(ctx, h.Native, data); err != nil {
				return gatt.Descriptor{}, err
			}
			return e.storeDescriptor(h, data), nil
		})
}
