package stationwatch

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"regexp"

	"github.com/jpalmerr/stationwatch/snapshot"
)

// validStationID restricts ids to characters that survive a URL path segment
// and a Prometheus label value unchanged.
var validStationID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Station is one test station whose status page is monitored.
//
// Station is immutable after creation via [NewStation]. Getters return
// copies of mutable data, so a Station can be shared freely between
// goroutines.
type Station struct {
	id      string
	name    string
	url     string
	enabled bool
	labels  map[string]string
	headers map[string]string
}

// ID returns the station's stable identifier.
// IDs key the cache, the change history and every API route.
func (s Station) ID() string {
	return s.id
}

// Name returns the station's display name.
func (s Station) Name() string {
	return s.name
}

// URL returns the address of the station's status page.
func (s Station) URL() string {
	return s.url
}

// Enabled reports whether the scheduler polls this station.
// Disabled stations still answer ad-hoc lookups.
func (s Station) Enabled() bool {
	return s.enabled
}

// Labels returns a copy of the station's labels.
// Returns nil if no labels are set.
func (s Station) Labels() map[string]string {
	return copyMap(s.labels)
}

// Headers returns a copy of the extra request headers sent when fetching
// the station's page. Returns nil if none are set.
func (s Station) Headers() map[string]string {
	return copyMap(s.headers)
}

func (s Station) source() snapshot.Source {
	return snapshot.Source{
		ID:      s.id,
		Name:    s.name,
		Locator: s.url,
		Enabled: s.enabled,
		Labels:  copyMap(s.labels),
		Headers: copyMap(s.headers),
	}
}

// NewStation creates a [Station] with the given id, display name and status
// page URL.
//
// The id must start with a letter or digit and contain only letters, digits,
// '.', '_' and '-'. An empty name defaults to the id. The URL must be
// absolute with an http or https scheme. Stations are enabled unless
// [WithEnabled] says otherwise.
//
// Example:
//
//	st, err := stationwatch.NewStation("ess08", "ESS08", "http://10.20.0.8/",
//	    stationwatch.WithLabels("line", "4"),
//	)
func NewStation(id, name, rawURL string, opts ...StationOption) (Station, error) {
	if id == "" {
		return Station{}, errors.New("station id cannot be empty")
	}
	if !validStationID.MatchString(id) {
		return Station{}, fmt.Errorf("invalid station id %q: use letters, digits, '.', '_' or '-'", id)
	}
	if name == "" {
		name = id
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Station{}, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return Station{}, errors.New("URL must use http:// or https://")
	}
	if parsedURL.Host == "" {
		return Station{}, errors.New("URL must include a host")
	}

	cfg := &stationConfig{
		enabled: true,
		labels:  make(map[string]string),
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Station{}, err
		}
	}

	return Station{
		id:      id,
		name:    name,
		url:     rawURL,
		enabled: cfg.enabled,
		labels:  cfg.labels,
		headers: cfg.headers,
	}, nil
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
