// Package bleerror defines the closed set of error kinds surfaced by the BLE
// engine and the converter that maps native stack failures onto them.
//
// Callers never see go-ble or OS errors directly: every failure crossing the
// engine boundary is an *Error whose Kind is one of the constants below.
package bleerror

import "fmt"

// Kind identifies a class of failure. Values are stable and grouped by domain
// in blocks of one hundred.
type Kind int

// Adapter-level kinds
const (
	UnknownError              Kind = 0
	BluetoothManagerDestroyed Kind = 1
	OperationCancelled        Kind = 2
	OperationTimedOut         Kind = 3
	OperationStartFailed      Kind = 4
	InvalidIdentifiers        Kind = 5
)

// Radio state kinds
const (
	BluetoothUnsupported       Kind = 100
	BluetoothUnauthorized      Kind = 101
	BluetoothPoweredOff        Kind = 102
	BluetoothInUnknownState    Kind = 103
	BluetoothResetting         Kind = 104
	BluetoothStateChangeFailed Kind = 105
)

// Device kinds
const (
	DeviceConnectionFailed Kind = 200
	DeviceDisconnected     Kind = 201
	DeviceRSSIReadFailed   Kind = 202
	DeviceAlreadyConnected Kind = 203
	DeviceNotFound         Kind = 204
	DeviceNotConnected     Kind = 205
	DeviceMTUChangeFailed  Kind = 206
)

// Service kinds
const (
	ServicesDiscoveryFailed         Kind = 300
	IncludedServicesDiscoveryFailed Kind = 301
	ServiceNotFound                 Kind = 302
	ServicesNotDiscovered           Kind = 303
)

// Characteristic kinds
const (
	CharacteristicsDiscoveryFailed   Kind = 400
	CharacteristicWriteFailed        Kind = 401
	CharacteristicReadFailed         Kind = 402
	CharacteristicNotifyChangeFailed Kind = 403
	CharacteristicNotFound           Kind = 404
	CharacteristicsNotDiscovered     Kind = 405
	CharacteristicInvalidDataFormat  Kind = 406
)

// Descriptor kinds
const (
	DescriptorsDiscoveryFailed  Kind = 500
	DescriptorWriteFailed       Kind = 501
	DescriptorReadFailed        Kind = 502
	DescriptorNotFound          Kind = 503
	DescriptorsNotDiscovered    Kind = 504
	DescriptorInvalidDataFormat Kind = 505
	DescriptorWriteNotAllowed   Kind = 506
)

// Scanning kinds
const (
	ScanStartFailed          Kind = 600
	LocationServicesDisabled Kind = 601
)

var kindNames = map[Kind]string{
	UnknownError:              "UnknownError",
	BluetoothManagerDestroyed: "BluetoothManagerDestroyed",
	OperationCancelled:        "OperationCancelled",
	OperationTimedOut:         "OperationTimedOut",
	OperationStartFailed:      "OperationStartFailed",
	InvalidIdentifiers:        "InvalidIdentifiers",

	BluetoothUnsupported:       "BluetoothUnsupported",
	BluetoothUnauthorized:      "BluetoothUnauthorized",
	BluetoothPoweredOff:        "BluetoothPoweredOff",
	BluetoothInUnknownState:    "BluetoothInUnknownState",
	BluetoothResetting:         "BluetoothResetting",
	BluetoothStateChangeFailed: "BluetoothStateChangeFailed",

	DeviceConnectionFailed: "DeviceConnectionFailed",
	DeviceDisconnected:     "DeviceDisconnected",
	DeviceRSSIReadFailed:   "DeviceRSSIReadFailed",
	DeviceAlreadyConnected: "DeviceAlreadyConnected",
	DeviceNotFound:         "DeviceNotFound",
	DeviceNotConnected:     "DeviceNotConnected",
	DeviceMTUChangeFailed:  "DeviceMTUChangeFailed",

	ServicesDiscoveryFailed:         "ServicesDiscoveryFailed",
	IncludedServicesDiscoveryFailed: "IncludedServicesDiscoveryFailed",
	ServiceNotFound:                 "ServiceNotFound",
	ServicesNotDiscovered:           "ServicesNotDiscovered",

	CharacteristicsDiscoveryFailed:   "CharacteristicsDiscoveryFailed",
	CharacteristicWriteFailed:        "CharacteristicWriteFailed",
	CharacteristicReadFailed:         "CharacteristicReadFailed",
	CharacteristicNotifyChangeFailed: "CharacteristicNotifyChangeFailed",
	CharacteristicNotFound:           "CharacteristicNotFound",
	CharacteristicsNotDiscovered:     "CharacteristicsNotDiscovered",
	CharacteristicInvalidDataFormat:  "CharacteristicInvalidDataFormat",

	DescriptorsDiscoveryFailed:  "DescriptorsDiscoveryFailed",
	DescriptorWriteFailed:       "DescriptorWriteFailed",
	DescriptorReadFailed:        "DescriptorReadFailed",
	DescriptorNotFound:          "DescriptorNotFound",
	DescriptorsNotDiscovered:    "DescriptorsNotDiscovered",
	DescriptorInvalidDataFormat: "DescriptorInvalidDataFormat",
	DescriptorWriteNotAllowed:   "DescriptorWriteNotAllowed",

	ScanStartFailed:          "ScanStartFailed",
	LocationServicesDisabled: "LocationServicesDisabled",
}

// String returns the symbolic name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code returns the stable integer code of the kind.
func (k Kind) Code() int {
	return int(k)
}

// Valid reports whether k belongs to the closed set.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}
