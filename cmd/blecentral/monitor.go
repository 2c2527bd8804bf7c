package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecore/pkg/bleuuid"
	"github.com/srg/blecore/pkg/central"
	"github.com/srg/blecore/pkg/gatt"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address> <characteristic-uuid>",
	Short: "Print characteristic value changes",
	Long: `Connects to the device, subscribes to a characteristic and prints every
value it sends until the duration elapses, --count values arrived, or Ctrl+C.

Notifications are used unless --indicate is given; a characteristic that only
supports the other mode falls back to it.

Examples:
  # Heart rate measurements for 30 seconds
  blecentral monitor AA:BB:CC:DD:EE:01 2a37 -d 30s --hex

  # First 10 battery level changes
  blecentral monitor AA:BB:CC:DD:EE:01 2a19 --count 10`,
	Args: cobra.ExactArgs(2),
	RunE: runMonitor,
}

var (
	monitorServiceUUID string
	monitorIndicate    bool
	monitorDuration    time.Duration
	monitorCount       int
	monitorHex         bool
)

func init() {
	monitorCmd.Flags().StringVar(&monitorServiceUUID, "service", "", "Service UUID (first service exposing the characteristic when empty)")
	monitorCmd.Flags().BoolVar(&monitorIndicate, "indicate", false, "Prefer indications over notifications")
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "How long to monitor (until Ctrl+C when 0)")
	monitorCmd.Flags().IntVarP(&monitorCount, "count", "n", 0, "Stop after this many values (unlimited when 0)")
	monitorCmd.Flags().BoolVar(&monitorHex, "hex", false, "Always print values as hex")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	address, charUUID := args[0], args[1]
	if monitorCount < 0 {
		return fmt.Errorf("invalid count %d: must not be negative", monitorCount)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := interruptible(cmd)
	defer cancel()

	progress := NewProgressPrinter("Monitoring "+address, "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	if _, err := s.connect(ctx, address, s.cfg.DefaultMTU, progress.Callback()); err != nil {
		return err
	}
	ref, err := s.characteristicRef(address, monitorServiceUUID, charUUID)
	if err != nil {
		return err
	}
	progress.Stop()

	if monitorDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, monitorDuration)
		defer stop()
	}

	hint := central.MonitorNotification
	if monitorIndicate {
		hint = central.MonitorIndication
	}

	values := make(chan gatt.Characteristic, s.cfg.EventBufferSize)
	txID := "monitor:" + address + ":" + charUUID
	monitor := s.engine.MonitorCharacteristic(ref, hint, txID, func(c gatt.Characteristic) {
		select {
		case values <- c:
		default:
			s.logger.WithField("characteristic", c.UUID).Warn("Monitor output is behind, value dropped")
		}
	})
	defer s.engine.CancelTransaction(txID)

	out := cmd.OutOrStdout()
	received := 0
	for {
		select {
		case c := <-values:
			fmt.Fprintf(out, "%s: %s\n", bleuuid.Short(c.UUID), formatValue(c.Value, monitorHex))
			received++
			if monitorCount > 0 && received >= monitorCount {
				return nil
			}
		case <-monitor.Done():
			o, _ := monitor.Outcome()
			_, err := o.Result()
			return err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		}
	}
}
