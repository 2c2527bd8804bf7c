package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/groutine"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/pkg/bleerror"
)

var errForeignAttribute = errors.New("attribute was not discovered by this backend")

// Link is one go-ble client connection.
type Link struct {
	address string
	client  GATTClient
	logger  *logrus.Logger

	done      chan struct{}
	closeOnce sync.Once
}

var _ native.Link = (*Link)(nil)

func newLink(address string, client GATTClient, logger *logrus.Logger) *Link {
	l := &Link{
		address: address,
		client:  client,
		logger:  logger,
		done:    make(chan struct{}),
	}

	// Not every go-ble client exposes Disconnected; without it the link only
	// goes down through Disconnect.
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "goble-link-monitor:"+address, func(_ context.Context) {
			select {
			case <-dc.Disconnected():
				l.logger.WithField("address", address).Info("BLE link dropped")
				l.markDown()
			case <-l.done:
			}
		})
	}
	return l
}

func (l *Link) markDown() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *Link) Address() string { return l.address }

func (l *Link) Disconnected() <-chan struct{} { return l.done }

func (l *Link) DiscoverProfile(ctx context.Context) ([]*native.RemoteService, error) {
	profile, err := call(ctx, func() (*ble.Profile, error) {
		return l.client.DiscoverProfile(true)
	})
	if err != nil {
		return nil, fail(bleerror.SourceServiceDiscovery, target{device: l.address}, err)
	}
	services := profileFrom(profile)
	l.logger.WithFields(logrus.Fields{
		"address":  l.address,
		"services": len(services),
	}).Debug("Discovered GATT profile")
	return services, nil
}

// RefreshCache is a no-op: DiscoverProfile always forces a fresh discovery.
func (l *Link) RefreshCache(_ context.Context) error {
	l.logger.WithField("address", l.address).Debug("GATT cache refresh requested; discovery is always forced")
	return nil
}

func (l *Link) ReadCharacteristic(ctx context.Context, c *native.RemoteCharacteristic) ([]byte, error) {
	t := target{device: l.address, characteristic: c.UUID}
	ch, err := bleCharacteristic(c)
	if err != nil {
		return nil, fail(bleerror.SourceReadCharacteristic, t, err)
	}
	v, err := call(ctx, func() ([]byte, error) {
		return l.client.ReadCharacteristic(ch)
	})
	if err != nil {
		return nil, fail(bleerror.SourceReadCharacteristic, t, err)
	}
	return v, nil
}

func (l *Link) WriteCharacteristic(ctx context.Context, c *native.RemoteCharacteristic, data []byte, withResponse bool) error {
	t := target{device: l.address, characteristic: c.UUID}
	ch, err := bleCharacteristic(c)
	if err != nil {
		return fail(bleerror.SourceWriteCharacteristic, t, err)
	}
	err = callErr(ctx, func() error {
		return l.client.WriteCharacteristic(ch, data, !withResponse)
	})
	return fail(bleerror.SourceWriteCharacteristic, t, err)
}

func (l *Link) ReadDescriptor(ctx context.Context, d *native.RemoteDescriptor) ([]byte, error) {
	t := target{device: l.address, descriptor: d.UUID}
	desc, err := bleDescriptor(d)
	if err != nil {
		return nil, fail(bleerror.SourceReadDescriptor, t, err)
	}
	v, err := call(ctx, func() ([]byte, error) {
		return l.client.ReadDescriptor(desc)
	})
	if err != nil {
		return nil, fail(bleerror.SourceReadDescriptor, t, err)
	}
	return v, nil
}

func (l *Link) WriteDescriptor(ctx context.Context, d *native.RemoteDescriptor, data []byte) error {
	t := target{device: l.address, descriptor: d.UUID}
	desc, err := bleDescriptor(d)
	if err != nil {
		return fail(bleerror.SourceWriteDescriptor, t, err)
	}
	err = callErr(ctx, func() error {
		return l.client.WriteDescriptor(desc, data)
	})
	return fail(bleerror.SourceWriteDescriptor, t, err)
}

func (l *Link) Subscribe(ctx context.Context, c *native.RemoteCharacteristic, indicate bool, handler func([]byte)) error {
	t := target{device: l.address, characteristic: c.UUID}
	ch, err := bleCharacteristic(c)
	if err != nil {
		return fail(bleerror.SourceNotify, t, err)
	}
	err = callErr(ctx, func() error {
		return l.client.Subscribe(ch, indicate, ble.NotificationHandler(handler))
	})
	return fail(bleerror.SourceNotify, t, err)
}

func (l *Link) Unsubscribe(ctx context.Context, c *native.RemoteCharacteristic, indicate bool) error {
	t := target{device: l.address, characteristic: c.UUID}
	ch, err := bleCharacteristic(c)
	if err != nil {
		return fail(bleerror.SourceNotify, t, err)
	}
	err = callErr(ctx, func() error {
		return l.client.Unsubscribe(ch, indicate)
	})
	return fail(bleerror.SourceNotify, t, err)
}

func (l *Link) ReadRSSI(ctx context.Context) (int, error) {
	rssi, err := call(ctx, func() (int, error) {
		return l.client.ReadRSSI(), nil
	})
	if err != nil {
		return 0, fail(bleerror.SourceReadRSSI, target{device: l.address}, err)
	}
	return rssi, nil
}

func (l *Link) ExchangeMTU(ctx context.Context, mtu int) (int, error) {
	granted, err := call(ctx, func() (int, error) {
		return l.client.ExchangeMTU(mtu)
	})
	if err != nil {
		return 0, fail(bleerror.SourceRequestMTU, target{device: l.address}, err)
	}
	return granted, nil
}

// RequestConnectionPriority is accepted and ignored; go-ble exposes no
// connection parameter update.
func (l *Link) RequestConnectionPriority(_ context.Context, p native.Priority) error {
	l.logger.WithFields(logrus.Fields{
		"address":  l.address,
		"priority": p.String(),
	}).Debug("Connection priority not supported by go-ble, ignoring")
	return nil
}

// Disconnect drops subscriptions best effort and cancels the connection.
func (l *Link) Disconnect() error {
	if err := l.client.ClearSubscriptions(); err != nil {
		l.logger.WithFields(logrus.Fields{
			"address": l.address,
			"error":   err,
		}).Debug("Failed to clear subscriptions before disconnect")
	}
	err := l.client.CancelConnection()
	l.markDown()
	if err != nil {
		return fail(bleerror.SourceDisconnect, target{device: l.address}, err)
	}
	return nil
}

func bleCharacteristic(c *native.RemoteCharacteristic) (*ble.Characteristic, error) {
	if c == nil {
		return nil, errForeignAttribute
	}
	ch, ok := c.Native.(*ble.Characteristic)
	if !ok || ch == nil {
		return nil, errForeignAttribute
	}
	return ch, nil
}

func bleDescriptor(d *native.RemoteDescriptor) (*ble.Descriptor, error) {
	if d == nil {
		return nil, errForeignAttribute
	}
	desc, ok := d.Native.(*ble.Descriptor)
	if !ok || desc == nil {
		return nil, errForeignAttribute
	}
	return desc, nil
}
