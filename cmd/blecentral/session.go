package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/internal/native/goble"
	"github.com/srg/blecore/pkg/bleerror"
	"github.com/srg/blecore/pkg/bleuuid"
	"github.com/srg/blecore/pkg/central"
	"github.com/srg/blecore/pkg/config"
	"github.com/srg/blecore/pkg/gatt"
)

// newRadio opens the platform radio. Tests replace it with a fake.
var newRadio = func(logger *logrus.Logger) (native.Radio, error) {
	return goble.New(logger)
}

// session is one command's engine and everything it owns.
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	engine *central.Engine
	radio  native.Radio
}

// loadConfig reads --config when set and applies --log-level on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return cfg, nil
}

// openSession creates the engine and activates its client.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	radio, err := newRadio(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE radio: %w", err)
	}

	engine := central.New(radio, central.WithLogger(logger), central.WithConfig(cfg))
	if err := engine.CreateClient("", nil, nil); err != nil {
		_ = radio.Close()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, engine: engine, radio: radio}, nil
}

// Close destroys the client and releases the radio.
func (s *session) Close() {
	s.engine.DestroyClient()
	if err := s.radio.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close BLE radio")
	}
}

// connect opens a connection and discovers the profile of address.
func (s *session) connect(ctx context.Context, address string, mtu int, progress func(string)) (gatt.Device, error) {
	if progress == nil {
		progress = func(string) {}
	}
	progress("Connecting")
	opts := &central.ConnectOptions{RequestMTU: mtu, Timeout: s.cfg.DeviceTimeout}
	if _, err := s.engine.Connect(address, opts, nil).Wait(ctx); err != nil {
		return gatt.Device{}, err
	}

	progress("Discovering")
	device, err := s.engine.DiscoverAll(address, "discover:"+address).Wait(ctx)
	if err != nil {
		s.engine.CancelTransaction("discover:" + address)
		return gatt.Device{}, err
	}
	return device, nil
}

// interruptible returns a context cancelled by Ctrl+C or SIGTERM.
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// characteristicRef addresses char on a discovered device. Without a service
// the first service exposing char is used.
func (s *session) characteristicRef(address, service, char string) (central.CharacteristicRef, error) {
	if service != "" {
		return central.ByDevice(address, service, char), nil
	}
	want, err := bleuuid.Canonicalize(char)
	if err != nil {
		return central.CharacteristicRef{}, err
	}
	tree, err := s.engine.Tree(address)
	if err != nil {
		return central.CharacteristicRef{}, err
	}
	for _, st := range tree {
		for _, ct := range st.Characteristics {
			if ct.Characteristic.UUID == want {
				return central.ByCharacteristicID(ct.Characteristic.ID), nil
			}
		}
	}
	return central.CharacteristicRef{}, bleerror.New(bleerror.CharacteristicNotFound, "characteristic not found on device").
		WithDevice(address).WithCharacteristic(want)
}
