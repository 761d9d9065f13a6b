package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/spikelink/internal/link/goble"
	"github.com/srg/spikelink/pkg/config"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for SPIKE hubs",
	Long: `Scan for LEGO SPIKE hubs advertising over Bluetooth Low Energy.

By default only devices advertising the SPIKE service are listed;
use --all to see every BLE device in range.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
)

func init() {
	defaults := config.DefaultConfig()
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", defaults.ScanTimeout, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", defaults.OutputFormat, "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List all BLE devices, not only SPIKE hubs")
	scanCmd.Flags().Bool("verbose", false, "Verbose logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scanner := goble.NewScanner(logger)
	hubs, err := scanner.Scan(ctx, &goble.ScanOptions{
		Duration:        scanDuration,
		DuplicateFilter: true,
		AllHubs:         scanAll,
	})
	if err != nil {
		return err
	}

	sort.Slice(hubs, func(i, j int) bool {
		return hubs[i].Address < hubs[j].Address
	})

	switch scanFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(hubs)
	default:
		return printHubTable(cmd, hubs)
	}
}

func printHubTable(cmd *cobra.Command, hubs []goble.HubInfo) error {
	if len(hubs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No SPIKE hubs found.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI")
	for _, hub := range hubs {
		name := hub.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", name, hub.Address, hub.RSSI)
	}
	return w.Flush()
}
