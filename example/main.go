package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jpalmerr/stationwatch"
	"github.com/jpalmerr/stationwatch/internal/mockstation"
	"github.com/jpalmerr/stationwatch/snapshot"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	// simulated testers (see internal/mockstation)
	sim := mockstation.New(logger, mockstation.WithStations("ESS07", "ESS08", "ESS09"))
	go func() {
		if err := http.ListenAndServe(":9999", sim.Handler()); err != nil {
			logger.Error().Err(err).Msg("mock station server stopped")
		}
	}()
	time.Sleep(100 * time.Millisecond)

	// grid API: one declaration, one station per simulated tester
	stations, err := stationwatch.NewStationGrid("ess", "ESS",
		stationwatch.WithURLTemplate("http://localhost:9999/{{.unit}}"),
		stationwatch.WithDimensions(map[string][]string{"unit": sim.Names()}),
		stationwatch.WithGridLabels("site", "demo"),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create station grid")
	}

	// a station that never answers shows up as offline
	offline, err := stationwatch.NewStation("ess99", "ESS99", "http://localhost:9999/ESS99")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create station")
	}
	stations = append(stations, offline)

	w, err := stationwatch.New(
		stationwatch.WithStations(stations...),
		stationwatch.WithTitle("StationWatch Demo"),
		stationwatch.WithPollingInterval(10*time.Second),
		stationwatch.WithPort(8080),
		stationwatch.WithAutoStart(true),
		stationwatch.WithLogger(logger),
		stationwatch.WithEventCallback(func(ev snapshot.Event) {
			if ev.Type != snapshot.EventSourceUpdate || ev.Changes == nil {
				return
			}
			for _, tr := range ev.Changes.SlotTransitions {
				logger.Info().
					Str("station", ev.Changes.SourceID).
					Str("slot", tr.SlotName).
					Str("from", tr.From).
					Str("to", tr.To).
					Msg("slot changed")
			}
		}),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create watcher")
	}

	fmt.Println()
	fmt.Println("  StationWatch demo")
	fmt.Println()
	fmt.Println("  Dashboard:  http://localhost:8080")
	fmt.Println("  Stations:   " + strings.Join(sim.Names(), ", ") + " (simulated), ESS99 (offline)")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("watcher error")
	}
}
