package testutils

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/internal/testutils/mocks"
	"github.com/srg/blecore/pkg/bleuuid"
	"github.com/stretchr/testify/mock"
)

// DefaultAddress is the address peripherals get unless WithAddress is used.
const DefaultAddress = "AA:BB:CC:DD:EE:01"

// DescriptorConfig represents a BLE descriptor configuration for mocking
type DescriptorConfig struct {
	UUID  string `json:"uuid"`
	Value []byte `json:"value,omitempty"`
}

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID        string             `json:"uuid"`
	Properties  string             `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value       []byte             `json:"value,omitempty"`
	Descriptors []DescriptorConfig `json:"descriptors,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// CharacteristicOption tweaks a characteristic added through WithCharacteristic.
type CharacteristicOption func(*CharacteristicConfig)

// WithDescriptorValue attaches a descriptor to the characteristic.
func WithDescriptorValue(uuid string, value []byte) CharacteristicOption {
	return func(c *CharacteristicConfig) {
		c.Descriptors = append(c.Descriptors, DescriptorConfig{UUID: uuid, Value: value})
	}
}

// PeripheralBuilder describes one simulated peripheral: what it advertises,
// its GATT profile and how its link behaves.
type PeripheralBuilder struct {
	address        string
	name           string
	rssi           int
	advertised     []string
	profile        DeviceProfileConfig
	readDelay      time.Duration
	mtu            int
	connectRSSI    int
	notConnectable bool
}

// NewPeripheralBuilder creates a builder for an empty peripheral at DefaultAddress.
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{
		address:     DefaultAddress,
		rssi:        -50,
		connectRSSI: -42,
		mtu:         517,
	}
}

func (b *PeripheralBuilder) WithAddress(address string) *PeripheralBuilder {
	b.address = address
	return b
}

func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.name = name
	return b
}

// WithRSSI sets the advertised signal strength.
func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.rssi = rssi
	return b
}

// WithLinkRSSI sets what ReadRSSI returns once connected.
func (b *PeripheralBuilder) WithLinkRSSI(rssi int) *PeripheralBuilder {
	b.connectRSSI = rssi
	return b
}

// WithAdvertisedServices sets the service UUIDs carried in advertisements.
func (b *PeripheralBuilder) WithAdvertisedServices(uuids ...string) *PeripheralBuilder {
	b.advertised = append(b.advertised, uuids...)
	return b
}

// WithMaxMTU caps the MTU the peripheral grants.
func (b *PeripheralBuilder) WithMaxMTU(mtu int) *PeripheralBuilder {
	b.mtu = mtu
	return b
}

// WithReadDelay makes every read and write on the link take d.
func (b *PeripheralBuilder) WithReadDelay(d time.Duration) *PeripheralBuilder {
	b.readDelay = d
	return b
}

func (b *PeripheralBuilder) NotConnectable() *PeripheralBuilder {
	b.notConnectable = true
	return b
}

// WithService adds a service to the device profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte, opts ...CharacteristicOption) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	char := CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	}
	for _, opt := range opts {
		opt(&char)
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, char)
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic
func (b *PeripheralBuilder) WithDescriptor(uuid string, value []byte) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithDescriptor: no service added yet, call WithService first")
	}
	svc := &b.profile.Services[len(b.profile.Services)-1]
	if len(svc.Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	ch := &svc.Characteristics[len(svc.Characteristics)-1]
	ch.Descriptors = append(ch.Descriptors, DescriptorConfig{UUID: uuid, Value: value})
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// Address returns the configured address.
func (b *PeripheralBuilder) Address() string {
	return b.address
}

// Profile returns the configured services.
func (b *PeripheralBuilder) Profile() DeviceProfileConfig {
	return b.profile
}

// Advertisement returns what the peripheral advertises while scanned.
func (b *PeripheralBuilder) Advertisement() native.Advertisement {
	connectable := !b.notConnectable
	adv := native.Advertisement{
		Address:     b.address,
		RSSI:        b.rssi,
		LocalName:   b.name,
		Connectable: &connectable,
	}
	for _, u := range b.advertised {
		adv.ServiceUUIDs = append(adv.ServiceUUIDs, bleuuid.MustCanonicalize(u))
	}
	return adv
}

// parseCharacteristicProperties converts a comma separated property list.
func parseCharacteristicProperties(props string) native.Property {
	if props == "" {
		return native.PropRead | native.PropWrite | native.PropNotify
	}

	var property native.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "broadcast":
			property |= native.PropBroadcast
		case "read":
			property |= native.PropRead
		case "write":
			property |= native.PropWrite
		case "write-without-response", "writenr":
			property |= native.PropWriteNoResp
		case "notify":
			property |= native.PropNotify
		case "indicate":
			property |= native.PropIndicate
		default:
			panic(fmt.Sprintf("unknown characteristic property %q", p))
		}
	}
	return property
}

func bleProperty(p native.Property) blelib.Property {
	var out blelib.Property
	if p.Has(native.PropBroadcast) {
		out |= blelib.CharBroadcast
	}
	if p.Has(native.PropRead) {
		out |= blelib.CharRead
	}
	if p.Has(native.PropWriteNoResp) {
		out |= blelib.CharWriteNR
	}
	if p.Has(native.PropWrite) {
		out |= blelib.CharWrite
	}
	if p.Has(native.PropNotify) {
		out |= blelib.CharNotify
	}
	if p.Has(native.PropIndicate) {
		out |= blelib.CharIndicate
	}
	return out
}

// BuildPeripheral creates the in-memory peripheral served by FakeRadio.
// Characteristics that notify or indicate get a CCCD unless one is declared.
func (b *PeripheralBuilder) BuildPeripheral() *FakePeripheral {
	p := newFakePeripheral(b.address, b.Advertisement())
	p.readDelay = b.readDelay
	p.maxMTU = b.mtu
	p.rssi = b.connectRSSI

	handle := uint16(1)
	next := func() uint16 {
		h := handle
		handle++
		return h
	}

	for _, svcConfig := range b.profile.Services {
		svc := &native.RemoteService{
			UUID:    bleuuid.MustCanonicalize(svcConfig.UUID),
			Handle:  next(),
			Primary: true,
		}
		for _, charConfig := range svcConfig.Characteristics {
			props := parseCharacteristicProperties(charConfig.Properties)
			ch := &native.RemoteCharacteristic{
				UUID:       bleuuid.MustCanonicalize(charConfig.UUID),
				Handle:     next(),
				Properties: props,
			}
			ch.ValueHandle = next()
			ch.Native = ch.ValueHandle
			p.values[ch.ValueHandle] = append([]byte(nil), charConfig.Value...)

			hasCCCD := false
			for _, d := range charConfig.Descriptors {
				desc := &native.RemoteDescriptor{UUID: bleuuid.MustCanonicalize(d.UUID), Handle: next()}
				desc.Native = desc.Handle
				hasCCCD = hasCCCD || desc.UUID == bleuuid.CCCD
				p.values[desc.Handle] = append([]byte(nil), d.Value...)
				ch.Descriptors = append(ch.Descriptors, desc)
			}
			if !hasCCCD && (props.Has(native.PropNotify) || props.Has(native.PropIndicate)) {
				desc := &native.RemoteDescriptor{UUID: bleuuid.CCCD, Handle: next()}
				desc.Native = desc.Handle
				p.values[desc.Handle] = []byte{0, 0}
				ch.Descriptors = append(ch.Descriptors, desc)
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		p.services = append(p.services, svc)
	}
	return p
}

// BuildProfile creates the go-ble profile matching the configured services.
func (b *PeripheralBuilder) BuildProfile() *blelib.Profile {
	var bleServices []*blelib.Service
	handle := uint16(1)
	for _, svcConfig := range b.profile.Services {
		bleService := &blelib.Service{
			UUID:   blelib.MustParse(svcConfig.UUID),
			Handle: handle,
		}
		handle++

		for _, charConfig := range svcConfig.Characteristics {
			bleChar := &blelib.Characteristic{
				UUID:        blelib.MustParse(charConfig.UUID),
				Property:    bleProperty(parseCharacteristicProperties(charConfig.Properties)),
				Handle:      handle,
				ValueHandle: handle + 1,
				Value:       charConfig.Value,
			}
			handle += 2
			for _, d := range charConfig.Descriptors {
				bleChar.Descriptors = append(bleChar.Descriptors, &blelib.Descriptor{
					UUID:   blelib.MustParse(d.UUID),
					Handle: handle,
					Value:  d.Value,
				})
				handle++
			}
			bleService.Characteristics = append(bleService.Characteristics, bleChar)
		}
		bleServices = append(bleServices, bleService)
	}
	return &blelib.Profile{Services: bleServices}
}

// BuildProfileClient creates a mocked go-ble client that serves BuildProfile
// and accepts disconnect calls. Attribute calls are left to the test.
func (b *PeripheralBuilder) BuildProfileClient() (*mocks.MockGATTClient, *blelib.Profile) {
	mockClient := &mocks.MockGATTClient{}
	profile := b.BuildProfile()

	mockClient.On("DiscoverProfile", true).Return(profile, nil)
	mockClient.On("CancelConnection").Return(nil)
	mockClient.On("ClearSubscriptions").Return(nil)
	mockClient.On("ReadRSSI").Return(b.connectRSSI)
	return mockClient, profile
}

// BuildClient is BuildProfileClient plus subscribe and read expectations for
// every characteristic. Reads of non-readable ones fail with an ATT error.
func (b *PeripheralBuilder) BuildClient() (*mocks.MockGATTClient, *blelib.Profile) {
	mockClient, profile := b.BuildProfileClient()

	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			mockClient.On("Subscribe", char, false, mock.Anything).Return(nil)
			mockClient.On("Subscribe", char, true, mock.Anything).Return(nil)
			mockClient.On("Unsubscribe", char, false).Return(nil)
			mockClient.On("Unsubscribe", char, true).Return(nil)

			if char.Property&blelib.CharRead != 0 {
				mockClient.On("ReadCharacteristic", char).Return(char.Value, nil)
			} else {
				mockClient.On("ReadCharacteristic", char).Return(nil, blelib.ErrReadNotPerm)
			}
		}
	}
	return mockClient, profile
}
