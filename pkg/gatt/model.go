// Package gatt holds the value types the engine hands to callers: device
// records, the discovered attribute tree and the state enums.
//
// Every value returned by the engine is a snapshot. Mutating it never affects
// the engine's cache.
package gatt

import (
	"encoding/base64"
	"maps"
	"slices"
)

// Device is the engine's record of a remote peripheral, keyed by address.
type Device struct {
	ID   string
	Name string
	RSSI *int
	MTU  *int

	// Advertisement data from the most recent sighting.
	LocalName             string
	ManufacturerData      []byte
	ServiceData           map[string][]byte
	ServiceUUIDs          []string
	SolicitedServiceUUIDs []string
	OverflowServiceUUIDs  []string
	TxPowerLevel          *int
	IsConnectable         *bool
}

// Clone returns a deep copy of d.
func (d Device) Clone() Device {
	c := d
	c.RSSI = clonePtr(d.RSSI)
	c.MTU = clonePtr(d.MTU)
	c.TxPowerLevel = clonePtr(d.TxPowerLevel)
	c.IsConnectable = clonePtr(d.IsConnectable)
	c.ManufacturerData = slices.Clone(d.ManufacturerData)
	c.ServiceUUIDs = slices.Clone(d.ServiceUUIDs)
	c.SolicitedServiceUUIDs = slices.Clone(d.SolicitedServiceUUIDs)
	c.OverflowServiceUUIDs = slices.Clone(d.OverflowServiceUUIDs)
	if d.ServiceData != nil {
		c.ServiceData = make(map[string][]byte, len(d.ServiceData))
		for k, v := range d.ServiceData {
			c.ServiceData[k] = slices.Clone(v)
		}
	}
	return c
}

// ManufacturerDataBase64 returns the manufacturer data in base64, or "" when absent.
func (d Device) ManufacturerDataBase64() string {
	return encode(d.ManufacturerData)
}

// Service is a discovered GATT service.
type Service struct {
	ID        int
	UUID      string
	DeviceID  string
	IsPrimary bool
}

// Characteristic is a discovered GATT characteristic.
type Characteristic struct {
	ID          int
	UUID        string
	ServiceID   int
	ServiceUUID string
	DeviceID    string

	IsReadable                bool
	IsWritableWithResponse    bool
	IsWritableWithoutResponse bool
	IsNotifiable              bool
	IsIndicatable             bool
	IsNotifying               bool

	Value     []byte
	WriteMode WriteMode
}

// Clone returns a deep copy of c.
func (c Characteristic) Clone() Characteristic {
	out := c
	out.Value = slices.Clone(c.Value)
	return out
}

// ValueBase64 returns the last known value in base64, or "" when unknown.
func (c Characteristic) ValueBase64() string {
	return encode(c.Value)
}

// Descriptor is a discovered GATT descriptor.
type Descriptor struct {
	ID                 int
	UUID               string
	CharacteristicID   int
	CharacteristicUUID string
	ServiceID          int
	ServiceUUID        string
	DeviceID           string

	Value []byte
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Value = slices.Clone(d.Value)
	return out
}

// ValueBase64 returns the last known value in base64, or "" when unknown.
func (d Descriptor) ValueBase64() string {
	return encode(d.Value)
}

// WriteMode records how the last write to a characteristic was issued.
type WriteMode int

const (
	WriteWithResponse WriteMode = iota
	WriteWithoutResponse
)

func (m WriteMode) String() string {
	if m == WriteWithoutResponse {
		return "without_response"
	}
	return "with_response"
}

// ScanResult is one advertisement sighting. Device already reflects the
// merged cache record.
type ScanResult struct {
	Device Device
	RSSI   int
}

// ServiceDataKeys returns the service data UUIDs in sorted order.
func (d Device) ServiceDataKeys() []string {
	return slices.Sorted(maps.Keys(d.ServiceData))
}

func encode(b []byte) string {
	if b == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
