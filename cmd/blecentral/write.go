package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <characteristic-uuid> <data>",
	Short: "Write a characteristic or descriptor value",
	Long: `Connects to the device, discovers its profile and writes data to one
characteristic, or one of its descriptors with --desc.

Data is sent as text unless --hex is given.

Examples:
  # Write text
  blecentral write AA:BB:CC:DD:EE:01 2a06 "hello"

  # Write bytes, without waiting for a response
  blecentral write AA:BB:CC:DD:EE:01 2a06 "01 ff" --hex --no-response`,
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

var (
	writeServiceUUID string
	writeDescUUID    string
	writeHex         bool
	writeNoResponse  bool
)

func init() {
	writeCmd.Flags().StringVar(&writeServiceUUID, "service", "", "Service UUID (first service exposing the characteristic when empty)")
	writeCmd.Flags().StringVar(&writeDescUUID, "desc", "", "Descriptor UUID to write instead of the characteristic")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Treat data as hex bytes")
	writeCmd.Flags().BoolVar(&writeNoResponse, "no-response", false, "Write without response")
}

// parseWriteData turns the command line data into bytes. Hex accepts spaces,
// colons, dashes and 0x prefixes between bytes.
func parseWriteData(data string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(data), nil
	}
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "").Replace(data)
	out, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return out, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	address, charUUID := args[0], args[1]
	data, err := parseWriteData(args[2], writeHex)
	if err != nil {
		return err
	}
	if writeNoResponse && writeDescUUID != "" {
		return fmt.Errorf("--no-response cannot be used with --desc")
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := interruptible(cmd)
	defer cancel()

	progress := NewProgressPrinter("Writing "+address, "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	if _, err := s.connect(ctx, address, s.cfg.DefaultMTU, progress.Callback()); err != nil {
		return err
	}
	ref, err := s.characteristicRef(address, writeServiceUUID, charUUID)
	if err != nil {
		return err
	}

	progress.Callback()("Writing")
	txID := "write:" + address
	encoded := base64.StdEncoding.EncodeToString(data)
	if writeDescUUID != "" {
		_, err = s.engine.WriteDescriptor(ref.Descriptor(writeDescUUID), encoded, txID).Wait(ctx)
	} else {
		_, err = s.engine.WriteCharacteristic(ref, encoded, !writeNoResponse, txID).Wait(ctx)
	}
	if err != nil {
		s.engine.CancelTransaction(txID)
		return err
	}
	progress.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d byte(s) to %s\n", len(data), attributeLabel(charUUID, writeDescUUID))
	return nil
}
