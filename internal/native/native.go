// Package native defines the boundary between the engine and a BLE stack.
//
// Backends implement Radio and Link and report failures as
// *bleerror.NativeFailure so the engine can classify them without knowing
// the stack. All UUIDs crossing this boundary are canonical (see bleuuid).
package native

import (
	"context"

	"github.com/srg/blecore/pkg/gatt"
)

// Property is the GATT characteristic property bit set.
type Property uint8

const (
	PropBroadcast   Property = 0x01
	PropRead        Property = 0x02
	PropWriteNoResp Property = 0x04
	PropWrite       Property = 0x08
	PropNotify      Property = 0x10
	PropIndicate    Property = 0x20
)

// Has reports whether every bit of q is set in p.
func (p Property) Has(q Property) bool {
	return p&q == q
}

// Priority is a connection interval preset.
type Priority int

const (
	PriorityBalanced Priority = iota
	PriorityHigh
	PriorityLowPower
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLowPower:
		return "low_power"
	default:
		return "balanced"
	}
}

// ScanParams is what the engine asks the stack to scan for. The engine filters
// results itself as well, so backends may ignore ServiceUUIDs.
type ScanParams struct {
	ServiceUUIDs    []string
	AllowDuplicates bool
	ScanMode        int
	LegacyOnly      bool
}

// Advertisement is one decoded advertising report.
type Advertisement struct {
	Address               string
	RSSI                  int
	LocalName             string
	ManufacturerData      []byte
	ServiceData           map[string][]byte
	ServiceUUIDs          []string
	SolicitedServiceUUIDs []string
	OverflowServiceUUIDs  []string
	TxPowerLevel          *int
	Connectable           *bool
}

// LinkOptions are passed to Radio.Connect.
type LinkOptions struct {
	AutoConnect bool
}

// RemoteService is a service as reported by the stack. Native holds the
// backend's own object for later calls.
type RemoteService struct {
	UUID            string
	Handle          uint16
	Primary         bool
	Characteristics []*RemoteCharacteristic
	Native          any
}

// RemoteCharacteristic is a characteristic as reported by the stack.
type RemoteCharacteristic struct {
	UUID        string
	Handle      uint16
	ValueHandle uint16
	Properties  Property
	Descriptors []*RemoteDescriptor
	Native      any
}

// RemoteDescriptor is a descriptor as reported by the stack.
type RemoteDescriptor struct {
	UUID   string
	Handle uint16
	Native any
}

// Radio is the local adapter.
type Radio interface {
	// State returns the current adapter state.
	State() gatt.AdapterState
	// OnStateChange registers fn for adapter state transitions. Only the
	// last registered handler is kept.
	OnStateChange(fn func(gatt.AdapterState))
	// SetPower turns the adapter on or off.
	SetPower(ctx context.Context, on bool) error
	// Scan blocks delivering advertisements to handler until ctx is done.
	// It returns nil when stopped through ctx.
	Scan(ctx context.Context, params ScanParams, handler func(Advertisement)) error
	// Connect establishes a link. It honours ctx cancellation.
	Connect(ctx context.Context, address string, opts LinkOptions) (Link, error)
	// Close releases the adapter.
	Close() error
}

// Link is one live connection to a peripheral. Implementations need not be
// safe for concurrent GATT calls; the engine serializes them per link.
type Link interface {
	Address() string
	DiscoverProfile(ctx context.Context) ([]*RemoteService, error)
	// RefreshCache makes the stack forget cached topology for this peripheral.
	RefreshCache(ctx context.Context) error
	ReadCharacteristic(ctx context.Context, c *RemoteCharacteristic) ([]byte, error)
	WriteCharacteristic(ctx context.Context, c *RemoteCharacteristic, data []byte, withResponse bool) error
	ReadDescriptor(ctx context.Context, d *RemoteDescriptor) ([]byte, error)
	WriteDescriptor(ctx context.Context, d *RemoteDescriptor, data []byte) error
	// Subscribe enables notifications (or indications) and delivers values to
	// handler until Unsubscribe or link loss. handler must not block.
	Subscribe(ctx context.Context, c *RemoteCharacteristic, indicate bool, handler func([]byte)) error
	Unsubscribe(ctx context.Context, c *RemoteCharacteristic, indicate bool) error
	ReadRSSI(ctx context.Context) (int, error)
	// ExchangeMTU returns the MTU actually granted.
	ExchangeMTU(ctx context.Context, mtu int) (int, error)
	RequestConnectionPriority(ctx context.Context, p Priority) error
	Disconnect() error
	// Disconnected is closed when the link goes down for any reason.
	Disconnected() <-chan struct{}
}
