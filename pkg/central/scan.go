package central

import (
	"context"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/groutine"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/bleuuid"
	"github.com/srg/blecore/pkg/gatt"
)

type scanSession struct {
	cancel context.CancelFunc
	done   chan struct{}

	filter       []string
	callbackType CallbackType
	onEvent      func(gatt.ScanResult)

	mu   sync.Mutex
	seen map[string]struct{}
}

// StartScan starts discovering peripherals. A scan already running is stopped
// first, and StartScan waits for it to end. Service filters are validated
// before anything else and applied by the engine as well as by the stack.
//
// onEvent runs on the scan goroutine and must not call StartScan. Failures
// after start, including an adapter that is not powered on, go to onError.
func (e *Engine) StartScan(opts *ScanOptions, onEvent func(gatt.ScanResult), onError func(error)) error {
	if err := e.usable(); err != nil {
		return err
	}
	o := e.scanOptions(opts)
	filter, err := bleuuid.CanonicalizeAll(o.ServiceUUIDs)
	if err != nil {
		return err
	}
	if onError == nil {
		onError = func(error) {}
	}

	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	if prev := e.stopScanLocked(); prev != nil {
		<-prev
		e.logger.Debug("Previous scan replaced")
	}

	ctx, cancel := context.WithCancel(e.rootContext())
	s := &scanSession{
		cancel:       cancel,
		done:         make(chan struct{}),
		filter:       filter,
		callbackType: o.CallbackType,
		onEvent:      onEvent,
		seen:         make(map[string]struct{}),
	}
	e.scan = s

	if o.CallbackType == CallbackMatchLost {
		e.logger.Warn("match_lost callbacks are not reported by this engine, scanning with all_matches")
	}

	params := native.ScanParams{
		ServiceUUIDs:    filter,
		AllowDuplicates: o.AllowDuplicates,
		ScanMode:        o.ScanMode.level(),
		LegacyOnly:      o.LegacyScan,
	}

	e.logger.WithFields(logrus.Fields{
		"services":         filter,
		"scan_mode":        o.ScanMode,
		"allow_duplicates": o.AllowDuplicates,
	}).Info("Starting BLE scan")

	groutine.Go(ctx, "scan", func(ctx context.Context) {
		defer close(s.done)

		if cause := stateError(e.radio.State()); cause != nil {
			onError(cause)
			return
		}

		err := e.radio.Scan(ctx, params, func(adv native.Advertisement) {
			e.handleAdvertisement(ctx, s, adv)
		})
		if err != nil && ctx.Err() == nil {
			converted := scanError(err)
			e.logger.WithField("error", converted).Error("Scan failed")
			onError(converted)
		}
	})
	return nil
}

// StopScan stops the running scan, if any. It does not wait for the scan
// goroutine, so it may be called from onEvent.
func (e *Engine) StopScan() error {
	if err := e.usable(); err != nil {
		return err
	}
	e.stopScan()
	return nil
}

func (e *Engine) stopScan() {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	if e.stopScanLocked() != nil {
		e.logger.Info("BLE scan stopped")
	}
}

// stopScanLocked cancels the current scan and returns its done channel.
func (e *Engine) stopScanLocked() <-chan struct{} {
	s := e.scan
	if s == nil {
		return nil
	}
	e.scan = nil
	s.cancel()
	return s.done
}

// scanError keeps state kinds and reports everything else as ScanStartFailed.
func scanError(err error) *bleerror.Error {
	converted := bleerror.Convert(err)
	switch converted.Kind {
	case bleerror.BluetoothPoweredOff, bleerror.BluetoothUnauthorized, bleerror.BluetoothUnsupported,
		bleerror.BluetoothResetting, bleerror.BluetoothInUnknownState, bleerror.LocationServicesDisabled,
		bleerror.ScanStartFailed:
		return converted
	}
	return bleerror.New(bleerror.ScanStartFailed, converted.Reason).WithCause(err)
}

func (e *Engine) handleAdvertisement(ctx context.Context, s *scanSession, adv native.Advertisement) {
	if ctx.Err() != nil {
		return
	}
	if !s.matches(adv) {
		e.logger.WithFields(logrus.Fields{
			"address":  adv.Address,
			"services": adv.ServiceUUIDs,
		}).Trace("Advertisement filtered out")
		return
	}

	s.mu.Lock()
	_, known := s.seen[adv.Address]
	s.seen[adv.Address] = struct{}{}
	s.mu.Unlock()

	device := e.cache.UpsertAdvertisement(adv)

	if !known {
		e.logger.WithFields(logrus.Fields{
			"address": adv.Address,
			"name":    device.Name,
			"rssi":    adv.RSSI,
		}).Debug("Discovered new device")
	} else if s.callbackType == CallbackFirstMatch {
		return
	}

	if s.onEvent != nil {
		s.onEvent(gatt.ScanResult{Device: device, RSSI: adv.RSSI})
	}
}

// matches applies the service filter. Solicited and overflow UUIDs count too.
func (s *scanSession) matches(adv native.Advertisement) bool {
	if len(s.filter) == 0 {
		return true
	}
	for _, uuids := range [][]string{adv.ServiceUUIDs, adv.OverflowServiceUUIDs, adv.SolicitedServiceUUIDs} {
		for _, u := range uuids {
			if slices.Contains(s.filter, u) {
				return true
			}
		}
	}
	return false
}
