package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// FakeRadioSuite provides a reusable test suite backed by a FakeRadio.
//
// Basic usage (automatic setup with default battery peripheral):
//
//	type SimpleSuite struct {
//	    testutils.FakeRadioSuite
//	}
//
//	func TestSimpleSuite(t *testing.T) {
//	    suite.Run(t, new(SimpleSuite))
//	}
//
// Custom peripherals:
//
//	func (s *InspectSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180D"). // Heart Rate Service
//	        WithCharacteristic("2A37", "read,notify", []byte{80})
//
//	    s.FakeRadioSuite.SetupTest() // Call parent last to apply configuration
//	}
type FakeRadioSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	TestTimeout time.Duration

	// Radio is rebuilt before every test from Peripherals.
	Radio       *FakeRadio
	Peripherals []*PeripheralBuilder
}

// SetupSuite initializes the test suite.
func (s *FakeRadioSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
}

// SetupTest builds the radio from the configured peripherals, falling back to
// the default battery peripheral.
func (s *FakeRadioSuite) SetupTest() {
	if len(s.Peripherals) == 0 {
		s.Peripherals = append(s.Peripherals, DefaultPeripheral())
	}

	s.Radio = NewFakeRadio()
	for _, b := range s.Peripherals {
		s.Radio.Add(b.BuildPeripheral())
	}
	s.Logger.WithField("peripherals", len(s.Peripherals)).Debug("Fake radio ready")
}

// TearDownTest resets the peripheral configuration after each test.
func (s *FakeRadioSuite) TearDownTest() {
	s.Peripherals = nil
	s.Radio = nil
}

// WithPeripheral adds a peripheral builder for fluent configuration. The first
// one sits at DefaultAddress, later ones get consecutive addresses.
func (s *FakeRadioSuite) WithPeripheral() *PeripheralBuilder {
	b := NewPeripheralBuilder()
	if n := len(s.Peripherals); n > 0 {
		b.WithAddress(AddressN(n + 1))
	}
	s.Peripherals = append(s.Peripherals, b)
	return b
}

// Peripheral returns the built peripheral at address.
func (s *FakeRadioSuite) Peripheral(address string) *FakePeripheral {
	p := s.Radio.Peripheral(address)
	s.Require().NotNil(p, "peripheral %s MUST be configured", address)
	return p
}

// WaitUntil asserts cond becomes true within the suite timeout.
func (s *FakeRadioSuite) WaitUntil(cond func() bool, msgAndArgs ...interface{}) {
	s.Require().Eventually(cond, s.TestTimeout, 5*time.Millisecond, msgAndArgs...)
}

// DefaultPeripheral is a Battery Service (180F) peripheral whose Battery Level
// (2A19) reads 50%.
func DefaultPeripheral() *PeripheralBuilder {
	return NewPeripheralBuilder().
		WithName("Battery").
		FromJSON(`
		{
			"services": [
				{
					"uuid": "180F",
					"characteristics": [
						{ "uuid": "2A19", "properties": "read,notify", "value": [50] }
					]
				}
			]
		}`)
}
