package central_test

import (
	"context"
	"errors"
	"sync"

	"github.com/srg/blecore/internal/testutils"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/central"
	"github.com/srg/blecore/pkg/gatt"
)

func (s *EngineSuite) TestDestroyClient_TearsEverythingDown() {
	// GOAL: Verify destroying the client ends connections and operations, then rejects calls
	//
	// TEST SCENARIO: Connect, hold a read → DestroyClient → read cancelled → Disconnected with BluetoothManagerDestroyed → calls rejected

	rec := &stateRecorder{}
	succeeded(s, s.Engine.Connect(testutils.DefaultAddress, nil, rec.handle))
	succeeded(s, s.Engine.DiscoverAll(testutils.DefaultAddress, ""))

	p := s.Peripheral(testutils.DefaultAddress)
	release := p.Hold()
	defer release()
	read := s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), "tx-held")
	s.WaitUntil(func() bool { return len(p.CallsOf(testutils.OpRead)) == 1 })

	s.Engine.DestroyClient()

	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()
	_, err := read.Wait(ctx)
	s.True(bleerror.IsKind(err, bleerror.OperationCancelled), "held read MUST be cancelled, got %v", err)

	s.WaitUntil(func() bool {
		last, ok := rec.Last()
		return ok && last == gatt.Disconnected
	})
	s.True(errors.Is(rec.LastError(), bleerror.ErrManagerDestroyed))
	s.Nil(p.Link(), "link MUST be closed")

	failedWith(s, s.Engine.Connect(testutils.DefaultAddress, nil, nil), bleerror.BluetoothManagerDestroyed)
	_, err = s.Engine.KnownDevices(nil)
	s.True(errors.Is(err, bleerror.ErrManagerDestroyed))
	s.True(errors.Is(s.Engine.StartScan(nil, nil, nil), bleerror.ErrManagerDestroyed))

	s.Engine.DestroyClient()
}

func (s *EngineSuite) TestDestroyClient_WaitsForConnectionWorkers() {
	// GOAL: Verify DestroyClient returns only after pending connection attempts have unwound
	//
	// TEST SCENARIO: Hold the native connect → Connect → DestroyClient → no native connect still running → attempt failed

	release := s.Radio.HoldConnect()
	defer release()

	attempt := s.Engine.Connect(testutils.DefaultAddress, nil, nil)
	s.WaitUntil(func() bool { return s.Radio.Connecting() == 1 })

	s.Engine.DestroyClient()

	s.Zero(s.Radio.Connecting(), "native connect MUST have returned before DestroyClient does")
	o := await(s, attempt)
	s.Require().NotNil(o.Err, "held attempt MUST fail")
	s.True(errors.Is(o.Err, bleerror.ErrManagerDestroyed), "unexpected error: %v", o.Err)
}

func (s *EngineSuite) TestCreateClient_AfterDestroyStartsFresh() {
	// GOAL: Verify a destroyed engine can be armed again with an empty cache
	//
	// TEST SCENARIO: Connect → destroy → create → no known devices → connect works again

	s.connect(testutils.DefaultAddress)
	s.Engine.DestroyClient()

	s.Require().NoError(s.Engine.CreateClient("", nil, nil))
	known, err := s.Engine.KnownDevices(nil)
	s.Require().NoError(err)
	s.Empty(known, "fresh session MUST start with an empty cache")

	s.connect(testutils.DefaultAddress)
}

func (s *EngineSuite) TestCreateClient_RestoreReportsConnectedDevices() {
	// GOAL: Verify a restore id makes the engine report the devices it still holds
	//
	// TEST SCENARIO: Connect → CreateClient with restore id → onRestored gets the connected device

	s.connect(testutils.DefaultAddress)

	restored := make(chan []gatt.Device, 1)
	s.Require().NoError(s.Engine.CreateClient("session-1", nil, func(devices []gatt.Device) {
		restored <- devices
	}))

	s.WaitUntil(func() bool { return len(restored) == 1 })
	devices := <-restored
	s.Require().Len(devices, 1)
	s.Equal(testutils.DefaultAddress, devices[0].ID)
}

func (s *EngineSuite) TestAdapterStateCallbackAndPower() {
	// GOAL: Verify adapter state changes reach the client and power requests drive the radio
	//
	// TEST SCENARIO: Disable → PoweredOff observed → Enable → PoweredOn observed; failing radio → BluetoothStateChangeFailed

	var mu sync.Mutex
	var seen []gatt.AdapterState
	s.Require().NoError(s.Engine.CreateClient("", func(st gatt.AdapterState) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	}, nil))

	succeeded(s, s.Engine.Disable(""))
	s.Equal(gatt.AdapterPoweredOff, s.Engine.State())
	succeeded(s, s.Engine.Enable(""))
	s.Equal(gatt.AdapterPoweredOn, s.Engine.State())

	mu.Lock()
	s.Equal([]gatt.AdapterState{gatt.AdapterPoweredOff, gatt.AdapterPoweredOn}, seen)
	mu.Unlock()

	s.Radio.FailPower(&bleerror.NativeFailure{Source: bleerror.SourceAdapterState, Err: errors.New("rfkill")})
	failedWith(s, s.Engine.Disable(""), bleerror.BluetoothStateChangeFailed)
}

func (s *EngineSuite) TestCancelTransaction_Unknown() {
	// GOAL: Verify cancelling an id nobody holds is a harmless no-op
	//
	// TEST SCENARIO: CancelTransaction on unknown id → false

	s.False(s.Engine.CancelTransaction("nobody"))
}

func (s *EngineSuite) TestSetLogLevel() {
	// GOAL: Verify engine log level names map onto the logger
	//
	// TEST SCENARIO: Set each engine level → LogLevel reports it; unknown name → error

	for _, level := range []string{"none", "verbose", "debug", "info", "warning", "error"} {
		s.Require().NoError(s.Engine.SetLogLevel(level))
		s.Equal(level, s.Engine.LogLevel())
	}
	s.Require().NoError(s.Engine.SetLogLevel("WARN"))
	s.Equal("warning", s.Engine.LogLevel())

	s.Error(s.Engine.SetLogLevel("chatty"))
	s.Require().NoError(s.Engine.SetLogLevel("debug"))
}

func (s *EngineSuite) TestFormatUserError() {
	// GOAL: Verify user-facing error text names the kind and the attribute
	//
	// TEST SCENARIO: Read failure → formatted text carries kind, device and short UUID

	s.connectAndDiscover(testutils.DefaultAddress)
	s.Peripheral(testutils.DefaultAddress).FailWith(testutils.OpRead, bleerror.SourceReadCharacteristic, bleerror.ConditionNone)

	err := failedWith(s, s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), ""),
		bleerror.CharacteristicReadFailed)
	s.Equal("CharacteristicReadFailed: simulated read failure (device AA:BB:CC:DD:EE:01, characteristic 2a19)",
		central.FormatUserError(err))
	s.Empty(central.FormatUserError(nil))
}
