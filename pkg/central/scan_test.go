package central_test

import (
	"errors"
	"sync"

	"github.com/srg/blecore/internal/testutils"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/bleuuid"
	"github.com/srg/blecore/pkg/central"
	"github.com/srg/blecore/pkg/gatt"
)

// scanRecorder collects scan results and errors.
type scanRecorder struct {
	mu      sync.Mutex
	results []gatt.ScanResult
	errs    []error
}

func (r *scanRecorder) onEvent(res gatt.ScanResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *scanRecorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *scanRecorder) Results() []gatt.ScanResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gatt.ScanResult(nil), r.results...)
}

func (r *scanRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (s *EngineSuite) addAdvertiser(n int, name string, services ...string) string {
	address := testutils.AddressN(n)
	s.Radio.Add(testutils.NewPeripheralBuilder().
		WithAddress(address).
		WithName(name).
		WithRSSI(-60 - n).
		WithAdvertisedServices(services...).
		BuildPeripheral())
	return address
}

func (s *EngineSuite) TestScan_ReportsAndCachesDevices() {
	// GOAL: Verify scanning reports every advertiser and records it in the device cache
	//
	// TEST SCENARIO: Two advertisers plus default → scan → three results → KnownDevices lists them

	hr := s.addAdvertiser(2, "HR Strap", "180D")
	s.addAdvertiser(3, "Thermo", "1809")

	rec := &scanRecorder{}
	s.Require().NoError(s.Engine.StartScan(nil, rec.onEvent, rec.onError))
	s.WaitUntil(func() bool { return len(rec.Results()) == 3 }, "every advertiser MUST be reported")
	s.Require().NoError(s.Engine.StopScan())

	known, err := s.Engine.KnownDevices(nil)
	s.Require().NoError(err)
	s.Len(known, 3)

	byID, err := s.Engine.KnownDevices([]string{hr, "unknown"})
	s.Require().NoError(err)
	s.Require().Len(byID, 1, "unknown ids MUST be skipped")
	s.Equal("HR Strap", byID[0].Name)
	s.Equal([]string{bleuuid.MustCanonicalize("180D")}, byID[0].ServiceUUIDs)
	s.Empty(rec.Errors())
}

func (s *EngineSuite) TestScan_ServiceFilter() {
	// GOAL: Verify the service filter keeps only matching advertisers, whatever the UUID form
	//
	// TEST SCENARIO: Filter on long-form heart rate UUID → only the heart rate strap is reported

	hr := s.addAdvertiser(2, "HR Strap", "180D")
	s.addAdvertiser(3, "Thermo", "1809")

	rec := &scanRecorder{}
	opts := &central.ScanOptions{ServiceUUIDs: []string{"0000180D-0000-1000-8000-00805F9B34FB"}}
	s.Require().NoError(s.Engine.StartScan(opts, rec.onEvent, rec.onError))
	s.WaitUntil(func() bool { return s.Radio.Scans() == 1 && len(rec.Results()) >= 1 })
	s.Require().NoError(s.Engine.StopScan())

	results := rec.Results()
	s.Require().Len(results, 1)
	s.Equal(hr, results[0].Device.ID)
	s.Equal(-62, results[0].RSSI)
	s.Equal([]string{bleuuid.MustCanonicalize("180D")}, s.Radio.LastScanParams().ServiceUUIDs,
		"canonical filter MUST be passed to the stack")
}

func (s *EngineSuite) TestScan_InvalidFilter() {
	// GOAL: Verify a malformed filter fails synchronously and never starts the radio
	//
	// TEST SCENARIO: Filter with garbage → InvalidIdentifiers → no scan started

	err := s.Engine.StartScan(&central.ScanOptions{ServiceUUIDs: []string{"180D", "zz"}}, nil, nil)
	s.True(bleerror.IsKind(err, bleerror.InvalidIdentifiers))
	s.Equal(0, s.Radio.Scans())
}

func (s *EngineSuite) TestScan_PoweredOffReportsError() {
	// GOAL: Verify scanning with the adapter off reports the state error through onError
	//
	// TEST SCENARIO: Adapter off → StartScan → onError gets BluetoothPoweredOff

	s.Radio.SetState(gatt.AdapterPoweredOff)

	rec := &scanRecorder{}
	s.Require().NoError(s.Engine.StartScan(nil, rec.onEvent, rec.onError))
	s.WaitUntil(func() bool { return len(rec.Errors()) == 1 })
	s.True(bleerror.IsKind(rec.Errors()[0], bleerror.BluetoothPoweredOff))
	s.Empty(rec.Results())
}

func (s *EngineSuite) TestScan_NativeFailureIsScanStartFailed() {
	// GOAL: Verify unclassified native scan failures surface as ScanStartFailed
	//
	// TEST SCENARIO: Radio scan fails with a plain error → onError gets ScanStartFailed

	s.Radio.FailScan(errors.New("hci busy"))

	rec := &scanRecorder{}
	s.Require().NoError(s.Engine.StartScan(nil, rec.onEvent, rec.onError))
	s.WaitUntil(func() bool { return len(rec.Errors()) == 1 })
	s.True(bleerror.IsKind(rec.Errors()[0], bleerror.ScanStartFailed))
}

func (s *EngineSuite) TestScan_RestartReplacesRunningScan() {
	// GOAL: Verify starting a scan while one runs replaces it
	//
	// TEST SCENARIO: Start → start again → two radio scans → first receives nothing more → stop

	first := &scanRecorder{}
	s.Require().NoError(s.Engine.StartScan(nil, first.onEvent, first.onError))
	s.WaitUntil(func() bool { return len(first.Results()) == 1 })

	second := &scanRecorder{}
	s.Require().NoError(s.Engine.StartScan(&central.ScanOptions{ScanMode: central.ScanLowLatency}, second.onEvent, second.onError))
	s.WaitUntil(func() bool { return len(second.Results()) == 1 })

	s.Equal(2, s.Radio.Scans())
	s.Equal(2, s.Radio.LastScanParams().ScanMode)
	s.Len(first.Results(), 1, "replaced scan MUST NOT report more results")
	s.Require().NoError(s.Engine.StopScan())
	s.Require().NoError(s.Engine.StopScan(), "stopping twice MUST be harmless")
}

func (s *EngineSuite) TestScan_StopFromCallback() {
	// GOAL: Verify StopScan may be called from the result callback
	//
	// TEST SCENARIO: onEvent calls StopScan → returns without deadlock → a new scan can start

	stopped := make(chan error, 1)
	s.Require().NoError(s.Engine.StartScan(nil, func(gatt.ScanResult) {
		select {
		case stopped <- s.Engine.StopScan():
		default:
		}
	}, nil))

	s.WaitUntil(func() bool { return len(stopped) == 1 }, "StopScan from callback MUST return")
	s.NoError(<-stopped)
	s.Require().NoError(s.Engine.StartScan(nil, nil, nil))
}
