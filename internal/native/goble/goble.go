// Package goble implements the native Radio and Link on top of go-ble.
//
// go-ble calls block and ignore contexts, so every call runs on its own
// goroutine and is abandoned when the caller's context ends. Failures leave
// this package as *bleerror.NativeFailure.
package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// Central is the part of ble.Device the radio needs.
type Central interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Stop() error
}

// GATTClient is the part of ble.Client a link needs.
type GATTClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadDescriptor(d *ble.Descriptor) ([]byte, error)
	WriteDescriptor(d *ble.Descriptor, v []byte) error
	ReadRSSI() int
	ExchangeMTU(rxMTU int) (int, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	ClearSubscriptions() error
	CancelConnection() error
}

// Dialer opens a GATT client to address.
type Dialer func(ctx context.Context, address string) (GATTClient, error)

// DeviceFactory creates the platform ble.Device (can be overridden in tests).
var DeviceFactory = newPlatformDevice

// dialerFor adapts ble.Device.Dial to a Dialer.
func dialerFor(dev ble.Device) Dialer {
	return func(ctx context.Context, address string) (GATTClient, error) {
		client, err := dev.Dial(ctx, ble.NewAddr(address))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// call runs fn on its own goroutine and returns early when ctx ends. The
// abandoned goroutine finishes in the background and its result is dropped.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// callErr is call for functions returning only an error.
func callErr(ctx context.Context, fn func() error) error {
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
