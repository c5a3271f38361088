// Package stationwatch monitors hardware test stations whose only
// observable state is an HTML status page.
//
// A [Watcher] polls each station on a fixed cadence, extracts a structured
// [snapshot.Snapshot] from the page, compares it with the previous one and
// pushes the changes to dashboard subscribers over Server-Sent Events or a
// WebSocket.
//
// # Quick Start
//
//	st, _ := stationwatch.NewStation("ess08", "ESS08", "http://10.20.0.8/")
//	w, _ := stationwatch.New(
//	    stationwatch.WithStation(st),
//	    stationwatch.WithAutoStart(true),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	w.Start(ctx) // blocks until ctx is cancelled
//
// # Stations
//
// Stations are immutable and built with [NewStation]. Racks of identical
// testers can be generated from a URL template with [NewStationGrid]:
//
//	stations, err := stationwatch.NewStationGrid("ess", "ESS",
//	    stationwatch.WithURLTemplate("http://10.20.0.{{.unit}}/"),
//	    stationwatch.WithDimensions(map[string][]string{"unit": {"8", "9", "10"}}),
//	    stationwatch.WithGridLabels("site", "fab2"),
//	)
//
// # Pipeline
//
// Each poll cycle visits the active stations one at a time:
//
//   - internal/scrape: fetch the page and parse it; failures become
//     failure snapshots with a single "Offline" slot
//   - internal/cache: answer repeat lookups within the TTL and share one
//     fetch between concurrent callers
//   - internal/detect: diff against the last retained snapshot
//   - internal/hub: fan events out to stream subscribers
//   - internal/poller: the scheduler driving the cycle
//   - internal/server: dashboard, control API, /metrics and the streams
//
// Changed stations produce a source-update event; every cycle ends with a
// batch-update event carrying all of its snapshots. [WithEventCallback]
// observes the same events in-process.
package stationwatch
