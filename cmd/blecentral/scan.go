package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecore/pkg/central"
	"github.com/srg/blecore/pkg/gatt"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Devices are listed in the order they were first seen, with the most recent
RSSI and the advertised services.

Examples:
  # Scan for 5 seconds
  blecentral scan -d 5s

  # Only devices advertising the Heart Rate service, as JSON
  blecentral scan --services 180d --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration        time.Duration
	scanFormat          string
	scanServices        []string
	scanMode            string
	scanAllowDuplicates bool
	scanFirstMatch      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (config scan_timeout when 0)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringVar(&scanMode, "mode", string(central.ScanBalanced), "Scan mode (opportunistic, low_power, balanced, low_latency)")
	scanCmd.Flags().BoolVar(&scanAllowDuplicates, "allow-duplicates", false, "Report every advertisement, not only the first")
	scanCmd.Flags().BoolVar(&scanFirstMatch, "first-match", false, "Report each device once")
}

func validScanMode(mode string) bool {
	switch central.ScanMode(mode) {
	case central.ScanOpportunistic, central.ScanLowPower, central.ScanBalanced, central.ScanLowLatency:
		return true
	}
	return false
}

func runScan(cmd *cobra.Command, _ []string) error {
	if !validScanMode(scanMode) {
		return fmt.Errorf("invalid scan mode '%s': must be one of opportunistic, low_power, balanced, low_latency", scanMode)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	format := scanFormat
	if format == "" {
		format = s.cfg.OutputFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	duration := scanDuration
	if duration <= 0 {
		duration = s.cfg.ScanTimeout
	}

	opts := &central.ScanOptions{
		ServiceUUIDs:    scanServices,
		ScanMode:        central.ScanMode(scanMode),
		AllowDuplicates: scanAllowDuplicates || s.cfg.AllowDuplicates,
	}
	if scanFirstMatch {
		opts.CallbackType = central.CallbackFirstMatch
	}

	ctx, cancel := interruptible(cmd)
	defer cancel()
	ctx, stop := context.WithTimeout(ctx, duration)
	defer stop()

	results, err := collectScan(ctx, s.engine, opts)
	if err != nil {
		return err
	}

	if format == "json" {
		views := make([]deviceView, 0, results.Len())
		for p := results.Oldest(); p != nil; p = p.Next() {
			views = append(views, newDeviceView(p.Value))
		}
		return writeJSON(cmd.OutOrStdout(), views)
	}
	writeScanTable(cmd.OutOrStdout(), results)
	return nil
}

// collectScan scans until ctx ends and returns the latest sighting of every
// device, keyed by address in first-seen order.
func collectScan(ctx context.Context, engine *central.Engine, opts *central.ScanOptions) (*orderedmap.OrderedMap[string, gatt.Device], error) {
	sightings := make(chan gatt.Device, 64)
	failures := make(chan error, 1)

	progress := NewProgressPrinter("Scanning", "Listening", time.Until(deadline(ctx)))
	progress.Start()
	defer progress.Stop()

	err := engine.StartScan(opts, func(r gatt.ScanResult) {
		select {
		case sightings <- r.Device:
		case <-ctx.Done():
		}
	}, func(err error) {
		select {
		case failures <- err:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = engine.StopScan() }()

	results := orderedmap.New[string, gatt.Device]()
	for {
		select {
		case d := <-sightings:
			results.Set(d.ID, d)
		case err := <-failures:
			return nil, err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			// drain what arrived before the deadline
			for {
				select {
				case d := <-sightings:
					results.Set(d.ID, d)
				default:
					return results, nil
				}
			}
		}
	}
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now()
}

func writeScanTable(w io.Writer, results *orderedmap.OrderedMap[string, gatt.Device]) {
	if results.Len() == 0 {
		fmt.Fprintln(w, "No devices found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI\tSERVICES")
	for p := results.Oldest(); p != nil; p = p.Next() {
		v := newDeviceView(p.Value)
		rssi := "-"
		if v.RSSI != nil {
			rssi = fmt.Sprintf("%d", *v.RSSI)
		}
		name := v.Name
		if name == "" {
			name = "-"
		}
		services := "-"
		if len(v.Services) > 0 {
			services = strings.Join(v.Services, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Address, name, rssi, services)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d device(s) found\n", results.Len())
}
