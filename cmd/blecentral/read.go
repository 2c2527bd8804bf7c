package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/blecore/pkg/bleuuid"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <characteristic-uuid>",
	Short: "Read a characteristic or descriptor value",
	Long: `Connects to the device, discovers its profile and reads one
characteristic, or one of its descriptors with --desc.

Examples:
  # Read Battery Level
  blecentral read AA:BB:CC:DD:EE:01 2a19

  # Read with service disambiguation, as hex
  blecentral read AA:BB:CC:DD:EE:01 2a19 --service 180f --hex

  # Read the Characteristic User Description
  blecentral read AA:BB:CC:DD:EE:01 2a19 --desc 2901`,
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var (
	readServiceUUID string
	readDescUUID    string
	readHex         bool
)

func init() {
	readCmd.Flags().StringVar(&readServiceUUID, "service", "", "Service UUID (first service exposing the characteristic when empty)")
	readCmd.Flags().StringVar(&readDescUUID, "desc", "", "Descriptor UUID to read instead of the characteristic")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Always print the value as hex")
}

func runRead(cmd *cobra.Command, args []string) error {
	address, charUUID := args[0], args[1]

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := interruptible(cmd)
	defer cancel()

	progress := NewProgressPrinter("Reading "+address, "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	if _, err := s.connect(ctx, address, s.cfg.DefaultMTU, progress.Callback()); err != nil {
		return err
	}
	ref, err := s.characteristicRef(address, readServiceUUID, charUUID)
	if err != nil {
		return err
	}

	progress.Callback()("Reading")
	txID := "read:" + address
	var value []byte
	if readDescUUID != "" {
		d, err := s.engine.ReadDescriptor(ref.Descriptor(readDescUUID), txID).Wait(ctx)
		if err != nil {
			s.engine.CancelTransaction(txID)
			return err
		}
		value = d.Value
	} else {
		c, err := s.engine.ReadCharacteristic(ref, txID).Wait(ctx)
		if err != nil {
			s.engine.CancelTransaction(txID)
			return err
		}
		value = c.Value
	}
	progress.Stop()

	fmt.Fprintln(cmd.OutOrStdout(), formatValue(value, readHex))
	return nil
}

// attributeLabel names the attribute a command acted on.
func attributeLabel(charUUID, descUUID string) string {
	if descUUID != "" {
		return "descriptor " + shortOrRaw(descUUID)
	}
	return "characteristic " + shortOrRaw(charUUID)
}

func shortOrRaw(uuid string) string {
	if c, err := bleuuid.Canonicalize(uuid); err == nil {
		return bleuuid.Short(c)
	}
	return uuid
}
