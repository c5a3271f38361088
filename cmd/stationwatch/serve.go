package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/stationwatch"
	"github.com/jpalmerr/stationwatch/config"
)

const shutdownTimeout = 10 * time.Second

// newLogger builds the process logger: JSON on stderr, or a console writer
// when pretty is set. It also replaces the zerolog global logger.
func newLogger(w io.Writer, level zerolog.Level, pretty bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll stations and serve the dashboard",
	Long: `Start polling the configured stations and serve the dashboard,
control API and event streams on the configured port.

With autostart: false the scheduler stays stopped until
POST /api/scheduler/start is called.

The server runs until interrupted (Ctrl+C) or it receives SIGTERM.

Example:
  stationwatch serve -c stationwatch.yaml
  stationwatch serve -c /etc/stationwatch/config.yaml --pretty`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().Bool("pretty", false, "human-readable console logs")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	pretty, _ := cmd.Flags().GetBool("pretty")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(os.Stderr, cfg.Level(), pretty)
	logger.Info().
		Int("stations", len(cfg.Stations)).
		Int("grids", len(cfg.Grids)).
		Str("config", configFile).
		Msg("config loaded")

	opts, err := config.Options(cfg)
	if err != nil {
		return fmt.Errorf("failed to build stations: %w", err)
	}
	opts = append(opts,
		stationwatch.WithLogger(logger),
		stationwatch.WithVersion(version),
	)

	w, err := stationwatch.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info().Msg("shutdown complete")
		return nil

	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info().Msg("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
			return nil
		}
	}
}
