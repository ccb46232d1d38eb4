package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gattdump",
		Short: "Dump the GATT database of connected BLE devices",
		Long: `Dump the GATT database of BLE devices connected through BlueZ:

- Lists every service and characteristic with its flags
- Reads readable characteristics, except the ones on the deny-list
- Subscribes to notifying characteristics and prints every notification

Runs until interrupted.`,
		Version:      fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runDump,
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	cmd.SilenceErrors = true

	f := cmd.Flags()
	f.String("config", "", "YAML configuration file")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
	f.BoolP("verbose", "v", false, "Verbose output (same as --log-level debug)")
	f.StringArray("deny-uuid", nil, "Never read this characteristic UUID (repeatable)")
	f.Bool("all-devices", false, "Dump every device instead of only the first one")
	f.Bool("descriptors", false, "Read and print descriptors")
	f.Bool("names", false, "Annotate UUIDs with their assigned names")
	f.String("color", "", "Color output (auto, always, never)")
	f.Bool("json", false, "Print one JSON object per device and per notification")
	f.String("adapter", "", "Only dump devices of this adapter, e.g. /org/bluez/hci0")
	return cmd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}
