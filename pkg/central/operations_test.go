package central_test

import (
	"context"
	"encoding/base64"

	"github.com/srg/blecore/internal/testutils"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/bleuuid"
	"github.com/srg/blecore/pkg/central"
	"github.com/srg/blecore/pkg/gatt"
)

func (s *EngineSuite) TestDiscoverAll_DisconnectedDevice() {
	// GOAL: Verify discovery requires a live connection
	//
	// TEST SCENARIO: DiscoverAll on a device never connected → DeviceNotConnected

	failedWith(s, s.Engine.DiscoverAll(testutils.DefaultAddress, ""), bleerror.DeviceNotConnected)
}

func (s *EngineSuite) TestDiscoverAll_MatchesPeripheralProfile() {
	// GOAL: Verify the discovered tree is exactly what the peripheral exposes
	//
	// TEST SCENARIO: Connect → discover → one battery service → one battery level characteristic with its CCCD

	s.connectAndDiscover(testutils.DefaultAddress)

	services, err := s.Engine.ServicesForDevice(testutils.DefaultAddress)
	s.Require().NoError(err)
	s.Require().Len(services, 1)
	s.Equal(batteryService, services[0].UUID)
	s.True(services[0].IsPrimary)

	chars, err := s.Engine.CharacteristicsForDevice(testutils.DefaultAddress, "180F")
	s.Require().NoError(err)
	s.Require().Len(chars, 1)
	s.Equal(batteryLevel, chars[0].UUID)
	s.True(chars[0].IsReadable)
	s.True(chars[0].IsNotifiable)
	s.False(chars[0].IsIndicatable)

	byService, err := s.Engine.CharacteristicsForService(services[0].ID)
	s.Require().NoError(err)
	s.Equal(chars, byService, "listing by service id MUST match listing by UUID")

	descs, err := s.Engine.DescriptorsForDevice(testutils.DefaultAddress, "180F", "2A19")
	s.Require().NoError(err)
	s.Require().Len(descs, 1)
	s.Equal(bleuuid.CCCD, descs[0].UUID)

	byChar, err := s.Engine.DescriptorsForCharacteristic(chars[0].ID)
	s.Require().NoError(err)
	s.Equal(descs, byChar)

	inService, err := s.Engine.DescriptorsForService(services[0].ID, "2a19")
	s.Require().NoError(err)
	s.Equal(descs, inService)

	tree, err := s.Engine.Tree(testutils.DefaultAddress)
	s.Require().NoError(err)
	s.Require().Len(tree, 1)
	s.Require().Len(tree[0].Characteristics, 1)
	s.Len(tree[0].Characteristics[0].Descriptors, 1)
}

func (s *EngineSuite) TestQueries_BeforeDiscovery() {
	// GOAL: Verify attribute queries on a connected but undiscovered device fail cleanly
	//
	// TEST SCENARIO: Connect → ServicesForDevice → ServicesNotDiscovered

	s.connect(testutils.DefaultAddress)

	_, err := s.Engine.ServicesForDevice(testutils.DefaultAddress)
	s.True(bleerror.IsKind(err, bleerror.ServicesNotDiscovered), "got %v", err)

	failedWith(s, s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), ""),
		bleerror.ServicesNotDiscovered)
}

func (s *EngineSuite) TestDiscoverAll_IDsStableAcrossRediscovery() {
	// GOAL: Verify attribute ids survive rediscovery and reconnection
	//
	// TEST SCENARIO: Discover → record ids → discover again → reconnect and discover → same ids

	s.connectAndDiscover(testutils.DefaultAddress)
	first, err := s.Engine.CharacteristicsForDevice(testutils.DefaultAddress, "180F")
	s.Require().NoError(err)

	succeeded(s, s.Engine.DiscoverAll(testutils.DefaultAddress, ""))
	second, err := s.Engine.CharacteristicsForDevice(testutils.DefaultAddress, "180F")
	s.Require().NoError(err)
	s.Equal(first[0].ID, second[0].ID, "rediscovery MUST keep characteristic ids")
	s.Equal(first[0].ServiceID, second[0].ServiceID, "rediscovery MUST keep service ids")

	succeeded(s, s.Engine.CancelConnection(testutils.DefaultAddress))
	s.connectAndDiscover(testutils.DefaultAddress)
	third, err := s.Engine.CharacteristicsForDevice(testutils.DefaultAddress, "180F")
	s.Require().NoError(err)
	s.Equal(first[0].ID, third[0].ID, "reconnection MUST keep characteristic ids")
}

func (s *EngineSuite) TestDiscoverAll_DuplicateUUIDsGetDistinctIDs() {
	// GOAL: Verify two characteristics sharing a UUID are told apart
	//
	// TEST SCENARIO: Peripheral with two 2A19 characteristics → discover → two different ids

	address := testutils.AddressN(2)
	s.Radio.Add(testutils.NewPeripheralBuilder().
		WithAddress(address).
		WithService("180F").
		WithCharacteristic("2A19", "read", []byte{1}).
		WithCharacteristic("2A19", "read", []byte{2}).
		BuildPeripheral())

	s.connectAndDiscover(address)
	chars, err := s.Engine.CharacteristicsForDevice(address, "180F")
	s.Require().NoError(err)
	s.Require().Len(chars, 2)
	s.NotEqual(chars[0].ID, chars[1].ID)

	v1 := succeeded(s, s.Engine.ReadCharacteristic(central.ByCharacteristicID(chars[0].ID), ""))
	v2 := succeeded(s, s.Engine.ReadCharacteristic(central.ByCharacteristicID(chars[1].ID), ""))
	s.Equal([]byte{1}, v1.Value)
	s.Equal([]byte{2}, v2.Value)
}

func (s *EngineSuite) TestDiscoverAll_NativeFailure() {
	// GOAL: Verify a native discovery failure maps to ServicesDiscoveryFailed with the device attached
	//
	// TEST SCENARIO: Discovery fails natively → ServicesDiscoveryFailed carrying the device id

	s.connect(testutils.DefaultAddress)
	s.Peripheral(testutils.DefaultAddress).FailWith(testutils.OpDiscover, bleerror.SourceServiceDiscovery, bleerror.ConditionNone)

	err := failedWith(s, s.Engine.DiscoverAll(testutils.DefaultAddress, ""), bleerror.ServicesDiscoveryFailed)
	s.Equal(testutils.DefaultAddress, err.DeviceID)
}

func (s *EngineSuite) TestRead_ShortAndLongUUIDsResolveTheSame() {
	// GOAL: Verify every addressing form reaches the same cached characteristic
	//
	// TEST SCENARIO: Read by short UUIDs, long UUIDs, service id and characteristic id → same id and value

	s.connectAndDiscover(testutils.DefaultAddress)

	short := succeeded(s, s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), ""))
	long := succeeded(s, s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress,
		"0000180F-0000-1000-8000-00805F9B34FB", "00002a19-0000-1000-8000-00805f9b34fb"), ""))
	byService := succeeded(s, s.Engine.ReadCharacteristic(central.ByService(short.ServiceID, "0x2A19"), ""))
	byID := succeeded(s, s.Engine.ReadCharacteristic(central.ByCharacteristicID(short.ID), ""))

	for _, ch := range []gatt.Characteristic{long, byService, byID} {
		s.Equal(short.ID, ch.ID)
		s.Equal(batteryLevel, ch.UUID)
		s.Equal([]byte{50}, ch.Value)
	}
}

func (s *EngineSuite) TestRead_InvalidUUID() {
	// GOAL: Verify malformed UUIDs are rejected before anything is queued
	//
	// TEST SCENARIO: Read with a garbage UUID → InvalidIdentifiers → no native read

	s.connectAndDiscover(testutils.DefaultAddress)
	failedWith(s, s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "not-a-uuid"), ""),
		bleerror.InvalidIdentifiers)
	s.Empty(s.Peripheral(testutils.DefaultAddress).CallsOf(testutils.OpRead))
}

func (s *EngineSuite) TestRead_NativeFailureCarriesContext() {
	// GOAL: Verify a failed read reports the kind and the attribute it concerns
	//
	// TEST SCENARIO: Native read fails → CharacteristicReadFailed with device, service and characteristic

	s.connectAndDiscover(testutils.DefaultAddress)
	s.Peripheral(testutils.DefaultAddress).FailWith(testutils.OpRead, bleerror.SourceReadCharacteristic, bleerror.ConditionNone)

	err := failedWith(s, s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), ""),
		bleerror.CharacteristicReadFailed)
	s.Equal(testutils.DefaultAddress, err.DeviceID)
	s.Equal(batteryService, err.ServiceUUID)
	s.Equal(batteryLevel, err.CharacteristicUUID)
}

func (s *EngineSuite) TestRead_CancelResolvesOnce() {
	// GOAL: Verify cancelling an in-flight read resolves it as cancelled exactly once
	//
	// TEST SCENARIO: Hold reads → read → cancel → Cancelled at once → release → still Cancelled

	s.connectAndDiscover(testutils.DefaultAddress)
	p := s.Peripheral(testutils.DefaultAddress)
	release := p.Hold()
	defer release()

	fut := s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), "tx-read")
	s.WaitUntil(func() bool { return len(p.CallsOf(testutils.OpRead)) == 1 }, "read MUST reach the link")

	s.True(s.Engine.CancelTransaction("tx-read"))
	o, ok := fut.Outcome()
	s.Require().True(ok, "cancel MUST resolve the future before returning")
	s.Equal(central.Cancelled, o.Status)
	s.Equal(bleerror.OperationCancelled, o.Err.Kind)

	release()
	s.WaitUntil(func() bool { return !s.Engine.CancelTransaction("tx-read") }, "cancelled transaction MUST be unregistered")

	again, _ := fut.Outcome()
	s.Equal(o, again, "outcome MUST NOT change after resolution")

	succeeded(s, s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), ""))
}

func (s *EngineSuite) TestRead_SupersedeCancelsPrevious() {
	// GOAL: Verify reusing a transaction id cancels the operation holding it
	//
	// TEST SCENARIO: Hold reads → read under tx → read again under tx → first Cancelled → second succeeds after release

	s.connectAndDiscover(testutils.DefaultAddress)
	p := s.Peripheral(testutils.DefaultAddress)
	release := p.Hold()
	defer release()

	ref := central.ByDevice(testutils.DefaultAddress, "180F", "2A19")
	first := s.Engine.ReadCharacteristic(ref, "tx")
	s.WaitUntil(func() bool { return len(p.CallsOf(testutils.OpRead)) == 1 })

	second := s.Engine.ReadCharacteristic(ref, "tx")
	o := await(s, first)
	s.Equal(central.Cancelled, o.Status, "superseded operation MUST be cancelled")

	release()
	ch := succeeded(s, second)
	s.Equal([]byte{50}, ch.Value)
}

func (s *EngineSuite) TestWrite_InvalidBase64NeverReachesNative() {
	// GOAL: Verify undecodable payloads are rejected before any native write
	//
	// TEST SCENARIO: Write "!!not base64" → CharacteristicInvalidDataFormat → no write call recorded

	s.connectAndDiscover(testutils.DefaultAddress)

	failedWith(s, s.Engine.WriteCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), "!!not base64", true, ""),
		bleerror.CharacteristicInvalidDataFormat)
	failedWith(s, s.Engine.WriteDescriptor(central.ByDevice(testutils.DefaultAddress, "180F", "2A19").Descriptor("2901"), "%%", ""),
		bleerror.DescriptorInvalidDataFormat)

	p := s.Peripheral(testutils.DefaultAddress)
	s.Empty(p.CallsOf(testutils.OpWrite), "invalid payload MUST NOT reach the link")
	s.Empty(p.CallsOf(testutils.OpWriteDescriptor))
}

func (s *EngineSuite) TestWrite_StoresValueAndMode() {
	// GOAL: Verify a write updates the peripheral, the returned snapshot and the write mode
	//
	// TEST SCENARIO: Write without response → peripheral holds bytes → snapshot carries value and mode → later read agrees

	s.connectAndDiscover(testutils.DefaultAddress)
	ref := central.ByDevice(testutils.DefaultAddress, "180F", "2A19")

	ch := succeeded(s, s.Engine.WriteCharacteristic(ref, base64.StdEncoding.EncodeToString([]byte{7, 8}), false, ""))
	s.Equal([]byte{7, 8}, ch.Value)
	s.Equal(gatt.WriteWithoutResponse, ch.WriteMode)

	p := s.Peripheral(testutils.DefaultAddress)
	s.Equal([]byte{7, 8}, p.ValueOf(batteryLevel))
	calls := p.CallsOf(testutils.OpWrite)
	s.Require().Len(calls, 1)
	s.False(calls[0].Flag, "write MUST be issued without response")

	read := succeeded(s, s.Engine.ReadCharacteristic(ref, ""))
	s.Equal([]byte{7, 8}, read.Value)
	s.Equal("Bwg=", read.ValueBase64())
}

func (s *EngineSuite) TestWrite_SameCharacteristicKeepsSubmissionOrder() {
	// GOAL: Verify writes to one characteristic hit the link in submission order
	//
	// TEST SCENARIO: Submit three writes back to back → link sees 1, 2, 3 → peripheral holds 3

	s.connectAndDiscover(testutils.DefaultAddress)
	ref := central.ByDevice(testutils.DefaultAddress, "180F", "2A19")

	var futs []*central.Future[gatt.Characteristic]
	for i := byte(1); i <= 3; i++ {
		futs = append(futs, s.Engine.WriteCharacteristic(ref, base64.StdEncoding.EncodeToString([]byte{i}), true, ""))
	}
	for _, f := range futs {
		succeeded(s, f)
	}

	p := s.Peripheral(testutils.DefaultAddress)
	calls := p.CallsOf(testutils.OpWrite)
	s.Require().Len(calls, 3)
	for i, c := range calls {
		s.Equal([]byte{byte(i + 1)}, c.Data, "write %d MUST keep its submission slot", i)
	}
	s.Equal([]byte{3}, p.ValueOf(batteryLevel))
}

func (s *EngineSuite) TestOperations_CrossDeviceIndependence() {
	// GOAL: Verify a stalled device does not block another one
	//
	// TEST SCENARIO: Hold reads on device 1 → read on device 2 completes → device 1 completes after release

	second := testutils.AddressN(2)
	s.Radio.Add(testutils.NewPeripheralBuilder().
		WithAddress(second).
		WithService("180F").
		WithCharacteristic("2A19", "read", []byte{99}).
		BuildPeripheral())

	s.connectAndDiscover(testutils.DefaultAddress)
	s.connectAndDiscover(second)

	release := s.Peripheral(testutils.DefaultAddress).Hold()
	defer release()
	stalled := s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), "")

	other := succeeded(s, s.Engine.ReadCharacteristic(central.ByDevice(second, "180F", "2A19"), ""))
	s.Equal([]byte{99}, other.Value)
	_, done := stalled.Outcome()
	s.False(done, "held read MUST still be pending")

	release()
	s.Equal([]byte{50}, succeeded(s, stalled).Value)
}

func (s *EngineSuite) TestOperations_PendingCancelledOnDisconnect() {
	// GOAL: Verify queued work does not survive its connection
	//
	// TEST SCENARIO: Hold reads → read → peripheral drops → read resolves Cancelled

	s.connectAndDiscover(testutils.DefaultAddress)
	p := s.Peripheral(testutils.DefaultAddress)
	release := p.Hold()
	defer release()

	fut := s.Engine.ReadCharacteristic(central.ByDevice(testutils.DefaultAddress, "180F", "2A19"), "")
	s.WaitUntil(func() bool { return len(p.CallsOf(testutils.OpRead)) == 1 })
	p.Drop()

	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()
	_, err := fut.Wait(ctx)
	s.True(bleerror.IsKind(err, bleerror.OperationCancelled), "got %v", err)
}

func (s *EngineSuite) TestDescriptors_ReadWriteAndCCCDGuard() {
	// GOAL: Verify descriptor reads and writes, and that the CCCD stays under monitor control
	//
	// TEST SCENARIO: Read CCCD → write user description → write CCCD → DescriptorWriteNotAllowed

	address := testutils.AddressN(2)
	s.Radio.Add(testutils.NewPeripheralBuilder().
		WithAddress(address).
		WithService("180D").
		WithCharacteristic("2A37", "read,notify", []byte{80}).
		WithDescriptor("2901", []byte("Heart Rate")).
		BuildPeripheral())
	s.connectAndDiscover(address)

	charRef := central.ByDevice(address, "180D", "2A37")
	cccd := succeeded(s, s.Engine.ReadDescriptor(charRef.Descriptor("2902"), ""))
	s.Equal([]byte{0, 0}, cccd.Value)

	desc := succeeded(s, s.Engine.WriteDescriptor(charRef.Descriptor("2901"), base64.StdEncoding.EncodeToString([]byte("HR")), ""))
	s.Equal([]byte("HR"), desc.Value)

	byID := succeeded(s, s.Engine.ReadDescriptor(central.ByDescriptorID(desc.ID), ""))
	s.Equal([]byte("HR"), byID.Value)

	byChar := succeeded(s, s.Engine.ReadDescriptor(central.ByCharacteristic(desc.CharacteristicID, "2901"), ""))
	s.Equal(desc.ID, byChar.ID)

	writes := s.Peripheral(address).CallsOf(testutils.OpWriteDescriptor)
	s.Require().Len(writes, 1, "the 2901 write MUST reach the link")

	err := failedWith(s, s.Engine.WriteDescriptor(charRef.Descriptor("2902"), "AQA=", ""), bleerror.DescriptorWriteNotAllowed)
	s.Equal(bleuuid.CCCD, err.DescriptorUUID)
	s.Equal(writes, s.Peripheral(address).CallsOf(testutils.OpWriteDescriptor), "CCCD write MUST NOT reach the link")

	failedWith(s, s.Engine.ReadDescriptor(charRef.Descriptor("2904"), ""), bleerror.DescriptorNotFound)
}

func (s *EngineSuite) TestConnectedDevices_FiltersByService() {
	// GOAL: Verify the connected device listing honours the service filter
	//
	// TEST SCENARIO: Connect and discover → filter 180F lists the device → filter 180D lists nothing

	s.connectAndDiscover(testutils.DefaultAddress)

	all, err := s.Engine.ConnectedDevices(nil)
	s.Require().NoError(err)
	s.Len(all, 1)

	match, err := s.Engine.ConnectedDevices([]string{"180f"})
	s.Require().NoError(err)
	s.Require().Len(match, 1)
	s.Equal(testutils.DefaultAddress, match[0].ID)

	none, err := s.Engine.ConnectedDevices([]string{"180D"})
	s.Require().NoError(err)
	s.Empty(none)

	_, err = s.Engine.ConnectedDevices([]string{"xyz"})
	s.True(bleerror.IsKind(err, bleerror.InvalidIdentifiers))
}
