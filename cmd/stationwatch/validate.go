package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/stationwatch"
	"github.com/jpalmerr/stationwatch/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a stationwatch configuration file without starting the server.

The YAML is parsed, environment variables are expanded, every field is
validated, and grids are expanded to check the generated station ids.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  stationwatch validate -c stationwatch.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	opts, err := config.Options(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	w, err := stationwatch.New(opts...)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	total := len(w.Stations())
	direct := len(cfg.Stations)
	enabled := 0
	for _, st := range w.Stations() {
		if st.Enabled() {
			enabled++
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	fmt.Fprintf(out, "  Poll interval: %s\n", cfg.PollInterval.Duration())
	fmt.Fprintf(out, "  Fetch timeout: %s\n", cfg.FetchTimeout.Duration())
	fmt.Fprintf(out, "  Autostart:     %t\n", cfg.AutoStart)
	fmt.Fprintf(out, "  Stations:      %d direct + %d from grids = %d total (%d enabled)\n",
		direct, total-direct, total, enabled)

	return nil
}
