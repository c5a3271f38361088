// Package main is the entry point for the stationwatch CLI.
//
// Usage:
//
//	stationwatch serve -c stationwatch.yaml    # poll stations and serve the dashboard
//	stationwatch validate -c stationwatch.yaml # check a config file
//	stationwatch version                       # show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags "-X main.version=1.0.0".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "stationwatch",
	Short: "Live dashboard for hardware test stations",
	Long: `stationwatch polls the HTML status pages of hardware test stations,
detects slot transitions between polls, and streams the changes to a
live dashboard over Server-Sent Events and WebSocket.

Quick start:
  1. Create a config file (stationwatch.yaml)
  2. Run: stationwatch serve -c stationwatch.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  poll_interval: 60s
  autostart: true
  stations:
    - id: ess08
      name: ESS08
      url: http://10.20.0.8/`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "stationwatch %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
