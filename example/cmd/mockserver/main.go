// Standalone simulated station server for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/stationwatch serve -c example/config.yaml
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jpalmerr/stationwatch/internal/mockstation"
)

func main() {
	addr := flag.String("addr", ":9999", "listen address")
	names := flag.String("stations", "ESS07,ESS08,ESS09", "comma-separated station names")
	slots := flag.Int("slots", 8, "slots per station")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()

	sim := mockstation.New(logger,
		mockstation.WithStations(strings.Split(*names, ",")...),
		mockstation.WithSlots(*slots),
	)

	fmt.Printf("Mock stations on %s: %s\n", *addr, strings.Join(sim.Names(), ", "))
	fmt.Println("Slots cycle through: available, testing, passed/failing/aborted")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	if err := http.ListenAndServe(*addr, sim.Handler()); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
