package stationwatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jpalmerr/stationwatch/internal/poller"
	"github.com/jpalmerr/stationwatch/snapshot"
)

// Fetch timeout bounds accepted by [WithFetchTimeout].
const (
	MinFetchTimeout = time.Second
	MaxFetchTimeout = 60 * time.Second
)

type watchConfig struct {
	title           string
	version         string
	stations        []Station
	pollingInterval time.Duration
	port            int
	fetchTimeout    time.Duration
	cacheTTL        time.Duration
	userAgent       string
	inactiveColors  []string
	autoStart       bool
	logger          *zerolog.Logger
	registry        *prometheus.Registry
	eventCallbacks  []func(snapshot.Event)
}

// Option configures a [Watcher] during construction with [New].
// Options return an error if validation fails.
type Option func(*watchConfig) error

// WithStation adds a single [Station] to the registry.
// Can be called multiple times. At least one station is required.
func WithStation(s Station) Option {
	return func(cfg *watchConfig) error {
		cfg.stations = append(cfg.stations, s)
		return nil
	}
}

// WithStations adds several stations at once, typically the output of
// [NewStationGrid].
func WithStations(stations ...Station) Option {
	return func(cfg *watchConfig) error {
		cfg.stations = append(cfg.stations, stations...)
		return nil
	}
}

// WithPollingInterval sets the period between poll cycles.
//
// Each cycle visits every active station in turn, so the interval should
// comfortably exceed stations × fetch timeout. Defaults to 60 seconds.
//
// Returns an error if the interval is below 10 seconds.
func WithPollingInterval(d time.Duration) Option {
	return func(cfg *watchConfig) error {
		if d < poller.MinInterval {
			return fmt.Errorf("polling interval must be at least %s", poller.MinInterval)
		}
		cfg.pollingInterval = d
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard and API. Defaults to 8080.
func WithPort(port int) Option {
	return func(cfg *watchConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithFetchTimeout bounds each station page fetch. Defaults to 10 seconds.
//
// Returns an error outside 1s to 60s.
func WithFetchTimeout(d time.Duration) Option {
	return func(cfg *watchConfig) error {
		if d < MinFetchTimeout || d > MaxFetchTimeout {
			return fmt.Errorf("fetch timeout must be between %s and %s", MinFetchTimeout, MaxFetchTimeout)
		}
		cfg.fetchTimeout = d
		return nil
	}
}

// WithCacheTTL sets how long a fetched snapshot answers repeat lookups.
// Defaults to 30 seconds.
func WithCacheTTL(d time.Duration) Option {
	return func(cfg *watchConfig) error {
		if d <= 0 {
			return errors.New("cache TTL must be positive")
		}
		cfg.cacheTTL = d
		return nil
	}
}

// WithUserAgent overrides the browser User-Agent sent to stations.
func WithUserAgent(ua string) Option {
	return func(cfg *watchConfig) error {
		if ua == "" {
			return errors.New("user agent cannot be empty")
		}
		cfg.userAgent = ua
		return nil
	}
}

// WithInactiveColors replaces the inline link colors that mark a sub-slot
// as idle. Colors are compared case-insensitively with whitespace removed.
//
//	stationwatch.WithInactiveColors("#aaa", "grey")
func WithInactiveColors(colors ...string) Option {
	return func(cfg *watchConfig) error {
		if len(colors) == 0 {
			return errors.New("at least one inactive color required")
		}
		cfg.inactiveColors = append([]string(nil), colors...)
		return nil
	}
}

// WithAutoStart starts the scheduler over every enabled station as soon as
// [Watcher.Start] runs. Without it the scheduler waits for
// POST /api/scheduler/start.
func WithAutoStart(enabled bool) Option {
	return func(cfg *watchConfig) error {
		cfg.autoStart = enabled
		return nil
	}
}

// WithLogger sets the zerolog logger. Defaults to the global logger from
// github.com/rs/zerolog/log.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *watchConfig) error {
		cfg.logger = &logger
		return nil
	}
}

// WithMetricsRegistry registers the watcher's Prometheus collectors on reg
// instead of a private registry. /metrics serves the private registry only.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(cfg *watchConfig) error {
		if reg == nil {
			return errors.New("metrics registry cannot be nil")
		}
		cfg.registry = reg
		return nil
	}
}

// WithEventCallback registers a function called for every event the
// watcher broadcasts: one source-update per changed station and one
// batch-update per cycle.
//
// Callbacks run synchronously on the polling goroutine in registration
// order, before the event reaches stream subscribers, so they must not
// block. Panics are recovered and logged.
//
//	stationwatch.WithEventCallback(func(ev snapshot.Event) {
//	    if ev.Changes != nil && len(ev.Changes.NewlyFailing) > 0 {
//	        page(ev.Snapshot.SourceID, ev.Changes.NewlyFailing)
//	    }
//	})
//
// Nil callbacks are ignored.
func WithEventCallback(cb func(snapshot.Event)) Option {
	return func(cfg *watchConfig) error {
		if cb == nil {
			return nil
		}
		cfg.eventCallbacks = append(cfg.eventCallbacks, cb)
		return nil
	}
}

// WithTitle sets the dashboard title. Defaults to "Station Watch".
func WithTitle(title string) Option {
	return func(cfg *watchConfig) error {
		cfg.title = title
		return nil
	}
}

// WithVersion sets the version string reported by /health.
func WithVersion(version string) Option {
	return func(cfg *watchConfig) error {
		cfg.version = version
		return nil
	}
}
