package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/blecore/pkg/central"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Inspect the GATT profile of a device",
	Long: `Connects to the device, discovers its services, characteristics and
descriptors and prints them as a tree. Every attribute carries the id that
later operations can address it by.

With --read, readable characteristics are read and their values included.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectFormat string
	inspectRead   bool
	inspectMTU    int
)

func init() {
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "", "Output format (table, json)")
	inspectCmd.Flags().BoolVar(&inspectRead, "read", false, "Read readable characteristic values")
	inspectCmd.Flags().IntVar(&inspectMTU, "mtu", 0, "MTU to request after connecting (config default_mtu when 0)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	address := args[0]

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	format := inspectFormat
	if format == "" {
		format = s.cfg.OutputFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
	mtu := inspectMTU
	if mtu == 0 {
		mtu = s.cfg.DefaultMTU
	}

	ctx, cancel := interruptible(cmd)
	defer cancel()

	progress := NewProgressPrinter("Inspecting "+address, "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	device, err := s.connect(ctx, address, mtu, progress.Callback())
	if err != nil {
		return err
	}

	if inspectRead {
		progress.Callback()("Reading")
		if err := readAll(ctx, s, address); err != nil {
			return err
		}
	}

	tree, err := s.engine.Tree(address)
	if err != nil {
		return err
	}
	progress.Stop()

	view := newProfileView(device, tree)
	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), view)
	}
	writeProfileText(cmd.OutOrStdout(), view)
	return nil
}

// readAll reads every readable characteristic. Read failures are logged and
// skipped so one protected attribute does not hide the rest.
func readAll(ctx context.Context, s *session, address string) error {
	tree, err := s.engine.Tree(address)
	if err != nil {
		return err
	}
	for _, st := range tree {
		for _, ct := range st.Characteristics {
			if !ct.Characteristic.IsReadable {
				continue
			}
			txID := fmt.Sprintf("inspect:%s:%d", address, ct.Characteristic.ID)
			if _, err := s.engine.ReadCharacteristic(central.ByCharacteristicID(ct.Characteristic.ID), txID).Wait(ctx); err != nil {
				if ctx.Err() != nil {
					s.engine.CancelTransaction(txID)
					return ctx.Err()
				}
				s.logger.WithError(err).WithField("characteristic", ct.Characteristic.UUID).Warn("Failed to read characteristic")
			}
		}
	}
	return nil
}
