// Package cache holds every device the engine has seen and the attribute tree
// discovered for connected ones.
//
// Device records live until Clear. The attribute tree of a device is replaced
// wholesale by each discovery and dropped by Purge. Lookups return snapshots
// plus the backend object needed to issue native calls.
package cache

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/pkg/gatt"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ServiceNode is the input and output shape for one discovered service.
type ServiceNode struct {
	Service         gatt.Service
	Native          *native.RemoteService
	Characteristics []*CharacteristicNode
}

// CharacteristicNode is one discovered characteristic.
type CharacteristicNode struct {
	Characteristic gatt.Characteristic
	Native         *native.RemoteCharacteristic
	Descriptors    []*DescriptorNode
}

// DescriptorNode is one discovered descriptor.
type DescriptorNode struct {
	Descriptor gatt.Descriptor
	Native     *native.RemoteDescriptor
}

// CharacteristicHandle is a resolved characteristic ready for a native call.
type CharacteristicHandle struct {
	Characteristic gatt.Characteristic
	Native         *native.RemoteCharacteristic
}

// DescriptorHandle is a resolved descriptor ready for a native call.
type DescriptorHandle struct {
	Descriptor gatt.Descriptor
	Native     *native.RemoteDescriptor
}

type deviceEntry struct {
	mu     sync.Mutex
	device gatt.Device
}

// Cache is safe for concurrent use.
type Cache struct {
	logger  *logrus.Logger
	devices atomic.Pointer[hashmap.Map[string, *deviceEntry]]

	mu              sync.RWMutex
	topology        map[string]*orderedmap.OrderedMap[int, *ServiceNode]
	services        map[int]*ServiceNode
	characteristics map[int]*CharacteristicNode
	descriptors     map[int]*DescriptorNode
	// owners outlives Purge so a stale id still names its device.
	owners map[int]string
}

// New creates an empty cache.
func New(logger *logrus.Logger) *Cache {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Cache{
		logger:          logger,
		topology:        make(map[string]*orderedmap.OrderedMap[int, *ServiceNode]),
		services:        make(map[int]*ServiceNode),
		characteristics: make(map[int]*CharacteristicNode),
		descriptors:     make(map[int]*DescriptorNode),
		owners:          make(map[int]string),
	}
	c.devices.Store(hashmap.New[string, *deviceEntry]())
	return c
}

// ---- devices ----

func (c *Cache) entry(id string) *deviceEntry {
	e, _ := c.devices.Load().GetOrInsert(id, &deviceEntry{device: gatt.Device{ID: id}})
	return e
}

// UpsertAdvertisement merges a sighting into the device record and returns
// the merged snapshot.
func (c *Cache) UpsertAdvertisement(adv native.Advertisement) gatt.Device {
	e := c.entry(adv.Address)
	e.mu.Lock()
	defer e.mu.Unlock()

	d := &e.device
	rssi := adv.RSSI
	d.RSSI = &rssi
	if adv.LocalName != "" {
		d.LocalName = adv.LocalName
		d.Name = adv.LocalName
	}
	if adv.ManufacturerData != nil {
		d.ManufacturerData = slices.Clone(adv.ManufacturerData)
	}
	if len(adv.ServiceData) > 0 {
		if d.ServiceData == nil {
			d.ServiceData = make(map[string][]byte, len(adv.ServiceData))
		}
		for k, v := range adv.ServiceData {
			d.ServiceData[k] = slices.Clone(v)
		}
	}
	if len(adv.ServiceUUIDs) > 0 {
		d.ServiceUUIDs = slices.Clone(adv.ServiceUUIDs)
	}
	if len(adv.SolicitedServiceUUIDs) > 0 {
		d.SolicitedServiceUUIDs = slices.Clone(adv.SolicitedServiceUUIDs)
	}
	if len(adv.OverflowServiceUUIDs) > 0 {
		d.OverflowServiceUUIDs = slices.Clone(adv.OverflowServiceUUIDs)
	}
	if adv.TxPowerLevel != nil {
		tx := *adv.TxPowerLevel
		d.TxPowerLevel = &tx
	}
	if adv.Connectable != nil {
		conn := *adv.Connectable
		d.IsConnectable = &conn
	}
	return d.Clone()
}

// EnsureDevice returns the record for id, creating an empty one if needed.
func (c *Cache) EnsureDevice(id string) gatt.Device {
	e := c.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device.Clone()
}

// Device returns the record for id.
func (c *Cache) Device(id string) (gatt.Device, bool) {
	e, ok := c.devices.Load().Get(id)
	if !ok {
		return gatt.Device{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device.Clone(), true
}

// Devices returns the records for ids, skipping unknown ones. With no ids it
// returns every known device.
func (c *Cache) Devices(ids []string) []gatt.Device {
	var out []gatt.Device
	if len(ids) == 0 {
		c.devices.Load().Range(func(_ string, e *deviceEntry) bool {
			e.mu.Lock()
			out = append(out, e.device.Clone())
			e.mu.Unlock()
			return true
		})
		slices.SortFunc(out, func(a, b gatt.Device) int {
			switch {
			case a.ID < b.ID:
				return -1
			case a.ID > b.ID:
				return 1
			}
			return 0
		})
		return out
	}
	for _, id := range ids {
		if d, ok := c.Device(id); ok {
			out = append(out, d)
		}
	}
	return out
}

// UpdateDevice applies fn to the record for id under its lock and returns
// the resulting snapshot.
func (c *Cache) UpdateDevice(id string, fn func(d *gatt.Device)) gatt.Device {
	e := c.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.device)
	return e.device.Clone()
}

// SetMTU records the negotiated MTU. A zero mtu clears it.
func (c *Cache) SetMTU(id string, mtu int) gatt.Device {
	return c.UpdateDevice(id, func(d *gatt.Device) {
		if mtu <= 0 {
			d.MTU = nil
			return
		}
		d.MTU = &mtu
	})
}

// SetRSSI records the last observed signal strength.
func (c *Cache) SetRSSI(id string, rssi int) gatt.Device {
	return c.UpdateDevice(id, func(d *gatt.Device) {
		d.RSSI = &rssi
	})
}

// ---- topology ----

// ReplaceTopology installs a freshly discovered tree for deviceID. Values of
// attributes that keep their id are carried over.
func (c *Cache) ReplaceTopology(deviceID string, services []*ServiceNode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevChars := make(map[int]gatt.Characteristic)
	prevDescs := make(map[int][]byte)
	if old, ok := c.topology[deviceID]; ok {
		for pair := old.Oldest(); pair != nil; pair = pair.Next() {
			for _, ch := range pair.Value.Characteristics {
				prevChars[ch.Characteristic.ID] = ch.Characteristic
				for _, ds := range ch.Descriptors {
					prevDescs[ds.Descriptor.ID] = ds.Descriptor.Value
				}
			}
		}
	}
	c.purgeLocked(deviceID)

	ordered := orderedmap.New[int, *ServiceNode]()
	for _, svc := range services {
		ordered.Set(svc.Service.ID, svc)
		c.services[svc.Service.ID] = svc
		c.owners[svc.Service.ID] = deviceID
		for _, ch := range svc.Characteristics {
			if prev, ok := prevChars[ch.Characteristic.ID]; ok {
				if ch.Characteristic.Value == nil {
					ch.Characteristic.Value = prev.Value
				}
				ch.Characteristic.IsNotifying = prev.IsNotifying
				ch.Characteristic.WriteMode = prev.WriteMode
			}
			c.characteristics[ch.Characteristic.ID] = ch
			c.owners[ch.Characteristic.ID] = deviceID
			for _, ds := range ch.Descriptors {
				if ds.Descriptor.Value == nil {
					ds.Descriptor.Value = prevDescs[ds.Descriptor.ID]
				}
				c.descriptors[ds.Descriptor.ID] = ds
				c.owners[ds.Descriptor.ID] = deviceID
			}
		}
	}
	c.topology[deviceID] = ordered

	c.logger.WithFields(logrus.Fields{
		"device_id": deviceID,
		"services":  len(services),
	}).Debug("Topology replaced")
}

// Purge drops the attribute tree of deviceID, keeping the device record.
func (c *Cache) Purge(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(deviceID)
}

func (c *Cache) purgeLocked(deviceID string) {
	old, ok := c.topology[deviceID]
	if !ok {
		return
	}
	for pair := old.Oldest(); pair != nil; pair = pair.Next() {
		delete(c.services, pair.Key)
		for _, ch := range pair.Value.Characteristics {
			delete(c.characteristics, ch.Characteristic.ID)
			for _, ds := range ch.Descriptors {
				delete(c.descriptors, ds.Descriptor.ID)
			}
		}
	}
	delete(c.topology, deviceID)
}

// Discovered reports whether a full discovery result is cached for deviceID.
func (c *Cache) Discovered(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topology[deviceID]
	return ok
}

// Owner returns the device an attribute id was discovered on. It keeps
// answering after Purge, until Clear.
func (c *Cache) Owner(id int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	deviceID, ok := c.owners[id]
	return deviceID, ok
}

// Clear drops everything, device records included.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.topology = make(map[string]*orderedmap.OrderedMap[int, *ServiceNode])
	c.services = make(map[int]*ServiceNode)
	c.characteristics = make(map[int]*CharacteristicNode)
	c.descriptors = make(map[int]*DescriptorNode)
	c.owners = make(map[int]string)
	c.mu.Unlock()

	// hashmap cannot reinsert a deleted key, so swap the map instead of Del.
	c.devices.Store(hashmap.New[string, *deviceEntry]())
}

// ---- value updates ----

// SetCharacteristicValue stores the last known value. It reports false if the
// characteristic is no longer cached.
func (c *Cache) SetCharacteristicValue(id int, value []byte) (gatt.Characteristic, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.characteristics[id]
	if !ok {
		return gatt.Characteristic{}, false
	}
	ch.Characteristic.Value = slices.Clone(value)
	return ch.Characteristic.Clone(), true
}

// SetWriteMode records how the characteristic was last written.
func (c *Cache) SetWriteMode(id int, mode gatt.WriteMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.characteristics[id]; ok {
		ch.Characteristic.WriteMode = mode
	}
}

// SetNotifying flips the notifying flag of a characteristic.
func (c *Cache) SetNotifying(id int, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.characteristics[id]; ok {
		ch.Characteristic.IsNotifying = on
	}
}

// SetDescriptorValue stores the last known descriptor value.
func (c *Cache) SetDescriptorValue(id int, value []byte) (gatt.Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.descriptors[id]
	if !ok {
		return gatt.Descriptor{}, false
	}
	ds.Descriptor.Value = slices.Clone(value)
	return ds.Descriptor.Clone(), true
}
