package config

import (
	"fmt"
	"sort"

	"github.com/jpalmerr/stationwatch"
)

// BuildStations converts the configured stations and grids into SDK
// stations, in file order with grids after direct stations.
func BuildStations(cfg *Config) ([]stationwatch.Station, error) {
	var stations []stationwatch.Station

	for _, sc := range cfg.Stations {
		st, err := buildStation(sc)
		if err != nil {
			return nil, fmt.Errorf("station %s: %w", sc.ID, err)
		}
		stations = append(stations, st)
	}

	for _, gc := range cfg.Grids {
		generated, err := buildGrid(gc)
		if err != nil {
			return nil, fmt.Errorf("grid %s: %w", gc.ID, err)
		}
		stations = append(stations, generated...)
	}

	return stations, nil
}

// Options translates the whole configuration into watcher options.
// Logging is left to the caller.
func Options(cfg *Config) ([]stationwatch.Option, error) {
	stations, err := BuildStations(cfg)
	if err != nil {
		return nil, err
	}

	opts := []stationwatch.Option{
		stationwatch.WithStations(stations...),
		stationwatch.WithTitle(cfg.Title),
		stationwatch.WithPort(cfg.Port),
		stationwatch.WithPollingInterval(cfg.PollInterval.Duration()),
		stationwatch.WithFetchTimeout(cfg.FetchTimeout.Duration()),
		stationwatch.WithAutoStart(cfg.AutoStart),
	}
	if cfg.CacheTTL > 0 {
		opts = append(opts, stationwatch.WithCacheTTL(cfg.CacheTTL.Duration()))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, stationwatch.WithUserAgent(cfg.UserAgent))
	}
	if len(cfg.Extractor.InactiveColors) > 0 {
		opts = append(opts, stationwatch.WithInactiveColors(cfg.Extractor.InactiveColors...))
	}
	return opts, nil
}

func buildStation(sc StationConfig) (stationwatch.Station, error) {
	opts := []stationwatch.StationOption{
		stationwatch.WithEnabled(enabled(sc.Enabled)),
	}
	if len(sc.Labels) > 0 {
		opts = append(opts, stationwatch.WithLabels(mapToKeyValuePairs(sc.Labels)...))
	}
	if len(sc.Headers) > 0 {
		opts = append(opts, stationwatch.WithHeaders(mapToKeyValuePairs(sc.Headers)...))
	}
	return stationwatch.NewStation(sc.ID, sc.Name, sc.URL, opts...)
}

func buildGrid(gc GridConfig) ([]stationwatch.Station, error) {
	opts := []stationwatch.GridOption{
		stationwatch.WithURLTemplate(gc.URLTemplate),
		stationwatch.WithDimensions(gc.Dimensions),
		stationwatch.WithGridEnabled(enabled(gc.Enabled)),
	}
	if len(gc.Labels) > 0 {
		opts = append(opts, stationwatch.WithGridLabels(mapToKeyValuePairs(gc.Labels)...))
	}
	if len(gc.Headers) > 0 {
		opts = append(opts, stationwatch.WithGridHeaders(mapToKeyValuePairs(gc.Headers)...))
	}
	return stationwatch.NewStationGrid(gc.ID, gc.Name, opts...)
}

func enabled(b *bool) bool {
	return b == nil || *b
}

// mapToKeyValuePairs converts a map to key-value pairs in sorted key order.
func mapToKeyValuePairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
