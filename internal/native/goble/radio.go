package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/gatt"
)

// Radio is the go-ble backed native.Radio.
type Radio struct {
	central Central
	dial    Dialer
	logger  *logrus.Logger

	mu      sync.Mutex
	state   gatt.AdapterState
	onState func(gatt.AdapterState)
}

var _ native.Radio = (*Radio)(nil)

// New opens the platform adapter through DeviceFactory.
func New(logger *logrus.Logger) (*Radio, error) {
	if logger == nil {
		logger = logrus.New()
	}
	dev, err := DeviceFactory()
	if err != nil {
		logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fail(bleerror.SourceAdapterState, target{}, err)
	}
	return NewWithCentral(dev, dialerFor(dev), logger), nil
}

// NewWithCentral builds a Radio over an already opened central.
func NewWithCentral(central Central, dial Dialer, logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		central: central,
		dial:    dial,
		logger:  logger,
		// go-ble only hands out a device once the manager is powered on
		state: gatt.AdapterPoweredOn,
	}
}

func (r *Radio) State() gatt.AdapterState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Radio) OnStateChange(fn func(gatt.AdapterState)) {
	r.mu.Lock()
	r.onState = fn
	r.mu.Unlock()
}

// SetPower accepts powering on an adapter that is already on. go-ble cannot
// switch the adapter off.
func (r *Radio) SetPower(_ context.Context, on bool) error {
	if on && r.State() == gatt.AdapterPoweredOn {
		return nil
	}
	return &bleerror.NativeFailure{
		Source: bleerror.SourceAdapterState,
		Err:    ErrPowerControlUnsupported,
	}
}

// Scan runs a go-ble scan until ctx ends.
func (r *Radio) Scan(ctx context.Context, params native.ScanParams, handler func(native.Advertisement)) error {
	if params.ScanMode != 0 || params.LegacyOnly {
		r.logger.WithFields(logrus.Fields{
			"scan_mode":   params.ScanMode,
			"legacy_only": params.LegacyOnly,
		}).Debug("Scan options not supported by go-ble, ignoring")
	}

	err := r.central.Scan(ctx, params.AllowDuplicates, func(a ble.Advertisement) {
		handler(advertisementFrom(a))
	})
	if err == nil || ctx.Err() != nil {
		return nil
	}
	r.logger.WithField("error", err).Warn("Scan failed")
	r.observe(err)
	return fail(bleerror.SourceScan, target{}, err)
}

// Connect dials address and returns the live link.
func (r *Radio) Connect(ctx context.Context, address string, opts native.LinkOptions) (native.Link, error) {
	if opts.AutoConnect {
		r.logger.WithField("address", address).Debug("autoConnect not supported by go-ble, dialing directly")
	}

	r.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := call(ctx, func() (GATTClient, error) {
		return r.dial(ctx, address)
	})
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Warn("Failed to dial BLE device")
		r.observe(err)
		return nil, fail(bleerror.SourceConnect, target{device: address}, err)
	}
	return newLink(address, client, r.logger), nil
}

func (r *Radio) Close() error {
	if err := r.central.Stop(); err != nil {
		return fail(bleerror.SourceAdapterState, target{}, err)
	}
	return nil
}

// observe infers adapter state from a failed call; go-ble has no state
// callback, so manager errors are the only signal.
func (r *Radio) observe(err error) {
	var next gatt.AdapterState
	switch classify(err) {
	case bleerror.ConditionPoweredOff:
		next = gatt.AdapterPoweredOff
	case bleerror.ConditionUnauthorized:
		next = gatt.AdapterUnauthorized
	case bleerror.ConditionUnsupported:
		next = gatt.AdapterUnsupported
	case bleerror.ConditionResetting:
		next = gatt.AdapterResetting
	default:
		return
	}

	r.mu.Lock()
	changed := r.state != next
	r.state = next
	fn := r.onState
	r.mu.Unlock()

	if changed && fn != nil {
		r.logger.WithField("state", next.String()).Info("Adapter state changed")
		fn(next)
	}
}
