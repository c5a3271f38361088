package stationwatch

import (
	"errors"
	"fmt"
)

type stationConfig struct {
	enabled bool
	labels  map[string]string
	headers map[string]string
}

// StationOption configures a [Station] during construction with [NewStation].
type StationOption func(*stationConfig) error

// WithEnabled sets whether the scheduler polls the station. Stations are
// enabled by default.
func WithEnabled(enabled bool) StationOption {
	return func(cfg *stationConfig) error {
		cfg.enabled = enabled
		return nil
	}
}

// WithLabels adds metadata labels to the station, shown in the dashboard
// and returned by the station listing.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	st, err := stationwatch.NewStation("ess08", "ESS08", url,
//	    stationwatch.WithLabels("site", "fab2", "line", "4"),
//	)
func WithLabels(keyValues ...string) StationOption {
	return func(cfg *stationConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithLabels requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.labels[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithHeaders adds request headers sent whenever the station page is
// fetched. A User-Agent header here overrides the watcher-wide one.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
func WithHeaders(keyValues ...string) StationOption {
	return func(cfg *stationConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			if keyValues[i] == "" {
				return fmt.Errorf("WithHeaders: empty header name at position %d", i)
			}
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}
