package central_test

import (
	"time"

	"github.com/srg/blecore/internal/testutils"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/central"
	"github.com/srg/blecore/pkg/config"
	"github.com/srg/blecore/pkg/gatt"
)

func (s *EngineSuite) TestConnect_RequestedMTUAndStateOrder() {
	// GOAL: Verify a connect with an MTU request reports the granted MTU and the state sequence
	//
	// TEST SCENARIO: Connect with RequestMTU 185 → device MTU is 185 → states are Connecting then Connected

	rec := &stateRecorder{}
	device := succeeded(s, s.Engine.Connect(testutils.DefaultAddress, &central.ConnectOptions{RequestMTU: 185}, rec.handle))

	s.Require().NotNil(device.MTU, "connected device MUST carry the negotiated MTU")
	s.Equal(185, *device.MTU)
	s.WaitUntil(func() bool { return len(rec.States()) == 2 }, "both states MUST be delivered")
	s.Equal([]gatt.ConnectionState{gatt.Connecting, gatt.Connected}, rec.States())

	connected, err := s.Engine.IsDeviceConnected(testutils.DefaultAddress)
	s.Require().NoError(err)
	s.True(connected)
}

func (s *EngineSuite) TestConnect_MTUCappedByPeripheral() {
	// GOAL: Verify the engine records what the peripheral grants, not what was asked
	//
	// TEST SCENARIO: Peripheral caps MTU at 185 → connect asks 517 → device MTU is 185

	s.Radio.Add(testutils.NewPeripheralBuilder().
		WithAddress(testutils.AddressN(2)).
		WithMaxMTU(185).
		WithService("180D").
		WithCharacteristic("2A37", "notify", nil).
		BuildPeripheral())

	device := succeeded(s, s.Engine.Connect(testutils.AddressN(2), &central.ConnectOptions{RequestMTU: 517}, nil))
	s.Require().NotNil(device.MTU)
	s.Equal(185, *device.MTU)
}

func (s *EngineSuite) TestConnect_AlreadyConnected() {
	// GOAL: Verify a second connect to the same device is rejected at once
	//
	// TEST SCENARIO: Connect → connect again → DeviceAlreadyConnected

	s.connect(testutils.DefaultAddress)
	failedWith(s, s.Engine.Connect(testutils.DefaultAddress, nil, nil), bleerror.DeviceAlreadyConnected)
}

func (s *EngineSuite) TestConnect_Failures() {
	// GOAL: Verify connect failures map to the documented kinds
	//
	// TEST SCENARIO: Empty id, unknown address and a powered off adapter → matching error kinds

	failedWith(s, s.Engine.Connect("", nil, nil), bleerror.InvalidIdentifiers)
	failedWith(s, s.Engine.Connect("11:22:33:44:55:66", nil, nil), bleerror.DeviceNotFound)

	s.Radio.SetState(gatt.AdapterPoweredOff)
	failedWith(s, s.Engine.Connect(testutils.DefaultAddress, nil, nil), bleerror.BluetoothPoweredOff)
}

func (s *EngineSuite) TestConnect_Timeout() {
	// GOAL: Verify a connect that never completes fails with OperationTimedOut
	//
	// TEST SCENARIO: Hold connect → timeout 50ms → OperationTimedOut → final state Disconnected

	release := s.Radio.HoldConnect()
	defer release()

	rec := &stateRecorder{}
	failedWith(s, s.Engine.Connect(testutils.DefaultAddress, &central.ConnectOptions{Timeout: 50 * time.Millisecond}, rec.handle),
		bleerror.OperationTimedOut)

	s.WaitUntil(func() bool {
		last, ok := rec.Last()
		return ok && last == gatt.Disconnected
	}, "timed out attempt MUST end with Disconnected")
	s.True(bleerror.IsKind(rec.LastError(), bleerror.OperationTimedOut))
}

func (s *EngineSuite) TestConnect_AutoConnectHasNoDefaultDeadline() {
	// GOAL: Verify the configured device timeout bounds plain connects but not auto-connect
	//
	// TEST SCENARIO: Device timeout 30ms, hold connect → plain connect times out → auto-connect still pending past it → release → connected

	cfg := config.DefaultConfig()
	cfg.DeviceTimeout = 30 * time.Millisecond
	engine := central.New(s.Radio, central.WithLogger(s.Logger), central.WithConfig(cfg))
	s.Require().NoError(engine.CreateClient("", nil, nil))
	defer engine.DestroyClient()

	release := s.Radio.HoldConnect()
	defer release()

	failedWith(s, engine.Connect(testutils.DefaultAddress, nil, nil), bleerror.OperationTimedOut)

	attempt := engine.Connect(testutils.DefaultAddress, &central.ConnectOptions{AutoConnect: true}, nil)
	time.Sleep(150 * time.Millisecond)
	_, done := attempt.Outcome()
	s.False(done, "auto-connect MUST keep waiting past the device timeout")

	release()
	device := succeeded(s, attempt)
	s.Equal(testutils.DefaultAddress, device.ID)
}

func (s *EngineSuite) TestCancelConnection_DuringConnect() {
	// GOAL: Verify cancelling a pending connect cancels the attempt
	//
	// TEST SCENARIO: Hold connect → CancelConnection → attempt Cancelled → no event after Disconnected

	release := s.Radio.HoldConnect()
	defer release()

	rec := &stateRecorder{}
	attempt := s.Engine.Connect(testutils.DefaultAddress, nil, rec.handle)
	succeeded(s, s.Engine.CancelConnection(testutils.DefaultAddress))

	o := await(s, attempt)
	s.Equal(central.Cancelled, o.Status, "cancelled attempt MUST resolve as Cancelled")
	s.Equal(bleerror.OperationCancelled, o.Err.Kind)

	release()
	s.WaitUntil(func() bool {
		last, ok := rec.Last()
		return ok && last == gatt.Disconnected
	})
	s.Equal([]gatt.ConnectionState{gatt.Connecting, gatt.Disconnecting, gatt.Disconnected}, rec.States())
	s.NoError(rec.LastError(), "requested disconnect MUST NOT carry an error")
}

func (s *EngineSuite) TestCancelConnection_NotConnected() {
	// GOAL: Verify cancelling a device without a connection fails
	//
	// TEST SCENARIO: CancelConnection on idle device → DeviceNotConnected

	failedWith(s, s.Engine.CancelConnection(testutils.DefaultAddress), bleerror.DeviceNotConnected)
}

func (s *EngineSuite) TestDisconnect_PeripheralDrop() {
	// GOAL: Verify a link lost by the peripheral tears the connection down with DeviceDisconnected
	//
	// TEST SCENARIO: Connect → peripheral drops → Disconnected with DeviceDisconnected → device no longer connected

	rec := &stateRecorder{}
	succeeded(s, s.Engine.Connect(testutils.DefaultAddress, nil, rec.handle))

	s.Peripheral(testutils.DefaultAddress).Drop()

	s.WaitUntil(func() bool {
		last, ok := rec.Last()
		return ok && last == gatt.Disconnected
	})
	s.True(bleerror.IsKind(rec.LastError(), bleerror.DeviceDisconnected), "spontaneous disconnect MUST carry DeviceDisconnected")

	connected, err := s.Engine.IsDeviceConnected(testutils.DefaultAddress)
	s.Require().NoError(err)
	s.False(connected)
}

func (s *EngineSuite) TestDisconnect_NoStaleData() {
	// GOAL: Verify nothing from a closed connection is served afterwards
	//
	// TEST SCENARIO: Connect and discover → disconnect → every getter, by UUID or by id, fails with DeviceNotConnected → MTU cleared

	s.connectAndDiscover(testutils.DefaultAddress)
	ch := succeeded(s, s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), ""))
	descs, err := s.Engine.DescriptorsForCharacteristic(ch.ID)
	s.Require().NoError(err)
	s.Require().NotEmpty(descs)

	succeeded(s, s.Engine.CancelConnection(testutils.DefaultAddress))

	notConnected := func(err error, what string) {
		s.True(bleerror.IsKind(err, bleerror.DeviceNotConnected), "%s MUST fail with DeviceNotConnected, got %v", what, err)
	}

	_, err = s.Engine.ServicesForDevice(testutils.DefaultAddress)
	notConnected(err, "ServicesForDevice")
	_, err = s.Engine.CharacteristicsForService(ch.ServiceID)
	notConnected(err, "CharacteristicsForService")
	_, err = s.Engine.DescriptorsForService(ch.ServiceID, "2A19")
	notConnected(err, "DescriptorsForService")
	_, err = s.Engine.DescriptorsForCharacteristic(ch.ID)
	notConnected(err, "DescriptorsForCharacteristic")

	failedWith(s, s.Engine.ReadCharacteristic(central.ByCharacteristicID(ch.ID), ""), bleerror.DeviceNotConnected)
	failedWith(s, s.Engine.ReadCharacteristic(central.ByService(ch.ServiceID, "2A19"), ""), bleerror.DeviceNotConnected)
	failedWith(s, s.Engine.ReadDescriptor(central.ByDescriptorID(descs[0].ID), ""), bleerror.DeviceNotConnected)
	failedWith(s, s.Engine.ReadDescriptor(central.ByCharacteristic(ch.ID, "2902"), ""), bleerror.DeviceNotConnected)

	_, err = s.Engine.CharacteristicsForService(9999)
	s.True(bleerror.IsKind(err, bleerror.ServiceNotFound), "an id never handed out MUST still be a plain miss")

	known, err := s.Engine.KnownDevices([]string{testutils.DefaultAddress})
	s.Require().NoError(err)
	s.Require().Len(known, 1, "device record MUST outlive the connection")
	s.Nil(known[0].MTU, "MTU MUST be cleared on disconnect")
}

func (s *EngineSuite) TestReconnect_StaleIDsNeedDiscovery() {
	// GOAL: Verify ids from an earlier connection report missing discovery once the device is back
	//
	// TEST SCENARIO: Connect and discover → disconnect → connect without discovery → id getters fail with ServicesNotDiscovered

	s.connectAndDiscover(testutils.DefaultAddress)
	ch := succeeded(s, s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), ""))
	succeeded(s, s.Engine.CancelConnection(testutils.DefaultAddress))
	s.connect(testutils.DefaultAddress)

	_, err := s.Engine.DescriptorsForCharacteristic(ch.ID)
	s.True(bleerror.IsKind(err, bleerror.ServicesNotDiscovered), "stale id MUST report ServicesNotDiscovered, got %v", err)
	failedWith(s, s.Engine.ReadCharacteristic(central.ByCharacteristicID(ch.ID), ""), bleerror.ServicesNotDiscovered)
}

func (s *EngineSuite) TestReconnect_AfterDisconnect() {
	// GOAL: Verify a device can be connected again once torn down
	//
	// TEST SCENARIO: Connect → disconnect → connect again → succeeds

	s.connect(testutils.DefaultAddress)
	succeeded(s, s.Engine.CancelConnection(testutils.DefaultAddress))
	s.connect(testutils.DefaultAddress)
}

func (s *EngineSuite) TestAdapterPoweredOff_TearsDownConnections() {
	// GOAL: Verify leaving PoweredOn drops every connection with the adapter state error
	//
	// TEST SCENARIO: Connect → adapter powered off → Disconnected with BluetoothPoweredOff

	rec := &stateRecorder{}
	succeeded(s, s.Engine.Connect(testutils.DefaultAddress, nil, rec.handle))

	s.Radio.SetState(gatt.AdapterPoweredOff)

	s.WaitUntil(func() bool {
		last, ok := rec.Last()
		return ok && last == gatt.Disconnected
	})
	s.True(bleerror.IsKind(rec.LastError(), bleerror.BluetoothPoweredOff))
	s.Equal(gatt.AdapterPoweredOff, s.Engine.State())
}

func (s *EngineSuite) TestRequestMTU() {
	// GOAL: Verify an MTU request after connect updates the device record
	//
	// TEST SCENARIO: Connect → RequestMTU 247 → device MTU 247; invalid MTU → DeviceMTUChangeFailed

	s.connect(testutils.DefaultAddress)

	device := succeeded(s, s.Engine.RequestMTU(testutils.DefaultAddress, 247, ""))
	s.Require().NotNil(device.MTU)
	s.Equal(247, *device.MTU)

	failedWith(s, s.Engine.RequestMTU(testutils.DefaultAddress, 0, ""), bleerror.DeviceMTUChangeFailed)
}

func (s *EngineSuite) TestReadRSSI() {
	// GOAL: Verify the link RSSI is read and stored on the device
	//
	// TEST SCENARIO: Connect → ReadRSSI → device RSSI is the link value

	s.connect(testutils.DefaultAddress)

	device := succeeded(s, s.Engine.ReadRSSI(testutils.DefaultAddress, ""))
	s.Require().NotNil(device.RSSI)
	s.Equal(-42, *device.RSSI)

	failedWith(s, s.Engine.ReadRSSI(testutils.AddressN(9), ""), bleerror.DeviceNotConnected)
}

func (s *EngineSuite) TestRequestConnectionPriority() {
	// GOAL: Verify the priority request reaches the link
	//
	// TEST SCENARIO: Connect → request high priority → link saw one priority call

	s.connect(testutils.DefaultAddress)
	succeeded(s, s.Engine.RequestConnectionPriority(testutils.DefaultAddress, central.PriorityHigh, ""))

	calls := s.Peripheral(testutils.DefaultAddress).CallsOf(testutils.OpPriority)
	s.Require().Len(calls, 1)
	s.Equal("high", string(calls[0].Data))
}

func (s *EngineSuite) TestConnect_RefreshOnConnected() {
	// GOAL: Verify the GATT cache refresh option runs before the connection is reported
	//
	// TEST SCENARIO: Connect with on_connected refresh → one refresh call

	succeeded(s, s.Engine.Connect(testutils.DefaultAddress, &central.ConnectOptions{RefreshGattTiming: central.RefreshOnConnected}, nil))
	s.Len(s.Peripheral(testutils.DefaultAddress).CallsOf(testutils.OpRefresh), 1)
}
