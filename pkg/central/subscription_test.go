package central_test

import (
	"github.com/srg/blecore/internal/testutils"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/central"
	"github.com/srg/blecore/pkg/gatt"
)

func (s *EngineSuite) TestMonitor_DeliversNotifications() {
	// GOAL: Verify notified values reach the monitor callback in order and update the cache
	//
	// TEST SCENARIO: Monitor 2A19 → peripheral notifies 10, 20 → callback sees both → read of cache agrees

	s.connectAndDiscover(testutils.DefaultAddress)
	p := s.Peripheral(testutils.DefaultAddress)

	rec := &valueRecorder{}
	fut := s.Engine.MonitorCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), central.MonitorAuto, "mon", rec.handle)
	s.WaitUntil(func() bool { return p.Link().Subscribed(batteryLevel) }, "monitor MUST subscribe natively")

	s.True(p.Notify(batteryLevel, []byte{10}))
	s.WaitUntil(func() bool { return rec.Len() == 1 })
	s.True(p.Notify(batteryLevel, []byte{20}))
	s.WaitUntil(func() bool { return rec.Len() == 2 })
	s.Equal([][]byte{{10}, {20}}, rec.Values())

	chars, err := s.Engine.CharacteristicsForDevice(testutils.DefaultAddress, "180F")
	s.Require().NoError(err)
	s.Equal([]byte{20}, chars[0].Value, "cache MUST hold the latest notified value")
	s.WaitUntil(func() bool {
		chars, err := s.Engine.CharacteristicsForDevice(testutils.DefaultAddress, "180F")
		return err == nil && chars[0].IsNotifying
	}, "characteristic MUST be marked notifying")

	subs := p.CallsOf(testutils.OpSubscribe)
	s.Require().Len(subs, 1)
	s.False(subs[0].Flag, "notify-only characteristic MUST use notifications")

	_, done := fut.Outcome()
	s.False(done, "monitor future MUST stay pending while monitoring")

	s.True(s.Engine.CancelTransaction("mon"))
	o := await(s, fut)
	s.Equal(central.Cancelled, o.Status)
	s.WaitUntil(func() bool { return !p.Link().Subscribed(batteryLevel) }, "last monitor MUST unsubscribe")
}

func (s *EngineSuite) TestMonitor_SharedSubscription() {
	// GOAL: Verify monitors of one characteristic share a native subscription
	//
	// TEST SCENARIO: Two monitors → one subscribe → both get values → stop first → still subscribed → stop second → unsubscribed

	s.connectAndDiscover(testutils.DefaultAddress)
	p := s.Peripheral(testutils.DefaultAddress)
	ref := central.ByDevice(testutils.DefaultAddress, "180F", "2A19")

	first, second := &valueRecorder{}, &valueRecorder{}
	s.Engine.MonitorCharacteristic(ref, central.MonitorAuto, "m1", first.handle)
	s.WaitUntil(func() bool { return p.Link().Subscribed(batteryLevel) })
	s.Engine.MonitorCharacteristic(ref, central.MonitorNotification, "m2", second.handle)

	// the second monitor joins on the device queue; a read queued after it
	// completes only once it has joined
	succeeded(s, s.Engine.ReadRSSI(testutils.DefaultAddress, ""))

	s.True(p.Notify(batteryLevel, []byte{1}))
	s.WaitUntil(func() bool { return first.Len() == 1 && second.Len() == 1 }, "both monitors MUST receive the value")
	s.Len(p.CallsOf(testutils.OpSubscribe), 1, "monitors MUST share one native subscription")

	s.True(s.Engine.CancelTransaction("m1"))
	succeeded(s, s.Engine.ReadRSSI(testutils.DefaultAddress, ""))
	s.True(p.Link().Subscribed(batteryLevel), "subscription MUST survive while a monitor remains")
	s.Empty(p.CallsOf(testutils.OpUnsubscribe))

	s.True(p.Notify(batteryLevel, []byte{2}))
	s.WaitUntil(func() bool { return second.Len() == 2 })
	s.Equal(1, first.Len(), "stopped monitor MUST NOT receive values")

	s.True(s.Engine.CancelTransaction("m2"))
	s.WaitUntil(func() bool { return len(p.CallsOf(testutils.OpUnsubscribe)) == 1 })
	s.False(p.Link().Subscribed(batteryLevel))
}

func (s *EngineSuite) TestMonitor_IndicationHint() {
	// GOAL: Verify the hint selects indications when the characteristic supports them
	//
	// TEST SCENARIO: Characteristic with notify and indicate → hint indication → subscribe flagged indicate

	address := testutils.AddressN(2)
	s.Radio.Add(testutils.NewPeripheralBuilder().
		WithAddress(address).
		WithService("1809").
		WithCharacteristic("2A1C", "notify,indicate", nil).
		BuildPeripheral())
	s.connectAndDiscover(address)

	s.Engine.MonitorCharacteristic(central.ByDevice(address, "1809", "2A1C"), central.MonitorIndication, "", nil)
	p := s.Peripheral(address)
	s.WaitUntil(func() bool { return len(p.CallsOf(testutils.OpSubscribe)) == 1 })
	s.True(p.CallsOf(testutils.OpSubscribe)[0].Flag, "indication hint MUST subscribe with indications")
}

func (s *EngineSuite) TestMonitor_NotNotifiable() {
	// GOAL: Verify monitoring a characteristic without notify or indicate fails at once
	//
	// TEST SCENARIO: Read-only characteristic → monitor → CharacteristicNotifyChangeFailed → no subscribe call

	address := testutils.AddressN(2)
	s.Radio.Add(testutils.NewPeripheralBuilder().
		WithAddress(address).
		WithService("180A").
		WithCharacteristic("2A29", "read", []byte("ACME")).
		BuildPeripheral())
	s.connectAndDiscover(address)

	err := failedWith(s, s.Engine.MonitorCharacteristic(central.ByDevice(address, "180A", "2A29"), central.MonitorAuto, "", nil),
		bleerror.CharacteristicNotifyChangeFailed)
	s.Equal(address, err.DeviceID)
	s.Empty(s.Peripheral(address).CallsOf(testutils.OpSubscribe))
}

func (s *EngineSuite) TestMonitor_SubscribeFailure() {
	// GOAL: Verify a native subscribe failure fails the monitor
	//
	// TEST SCENARIO: Subscribe fails natively → monitor future fails with CharacteristicNotifyChangeFailed

	s.connectAndDiscover(testutils.DefaultAddress)
	s.Peripheral(testutils.DefaultAddress).FailWith(testutils.OpSubscribe, bleerror.SourceNotify, bleerror.ConditionNone)

	failedWith(s, s.Engine.MonitorCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), central.MonitorAuto, "", nil),
		bleerror.CharacteristicNotifyChangeFailed)
}

func (s *EngineSuite) TestMonitor_EndsOnDisconnect() {
	// GOAL: Verify a monitor fails with the disconnect cause when the link drops
	//
	// TEST SCENARIO: Monitor → peripheral drops → monitor future fails with DeviceDisconnected

	s.connectAndDiscover(testutils.DefaultAddress)
	p := s.Peripheral(testutils.DefaultAddress)

	fut := s.Engine.MonitorCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), central.MonitorAuto, "", nil)
	s.WaitUntil(func() bool { return p.Link().Subscribed(batteryLevel) })

	p.Drop()
	failedWith(s, fut, bleerror.DeviceDisconnected)
}

func (s *EngineSuite) TestMonitor_CallbackPanicEndsMonitor() {
	// GOAL: Verify a panicking callback ends its monitor without taking the engine down
	//
	// TEST SCENARIO: Callback panics on first value → monitor fails → reads keep working

	s.connectAndDiscover(testutils.DefaultAddress)
	p := s.Peripheral(testutils.DefaultAddress)

	fut := s.Engine.MonitorCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), central.MonitorAuto, "",
		func(gatt.Characteristic) { panic("boom") })
	s.WaitUntil(func() bool { return p.Link().Subscribed(batteryLevel) })

	p.Notify(batteryLevel, []byte{1})
	failedWith(s, fut, bleerror.UnknownError)

	succeeded(s, s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), ""))
}
