package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/stationwatch"
)

func boolPtr(b bool) *bool { return &b }

func TestBuildStations_SingleStation(t *testing.T) {
	cfg := &Config{
		Stations: []StationConfig{
			{ID: "ess08", Name: "ESS08", URL: "http://10.20.0.8/"},
		},
	}

	stations, err := BuildStations(cfg)
	if err != nil {
		t.Fatalf("BuildStations() error = %v", err)
	}
	if len(stations) != 1 {
		t.Fatalf("len(stations) = %d, want 1", len(stations))
	}

	st := stations[0]
	if st.ID() != "ess08" || st.Name() != "ESS08" || st.URL() != "http://10.20.0.8/" {
		t.Errorf("station = (%s, %s, %s)", st.ID(), st.Name(), st.URL())
	}
	if !st.Enabled() {
		t.Error("Enabled() = false, want true when omitted")
	}
}

func TestBuildStations_AllFields(t *testing.T) {
	cfg := &Config{
		Stations: []StationConfig{
			{
				ID:      "ess08",
				URL:     "http://10.20.0.8/",
				Enabled: boolPtr(false),
				Labels:  map[string]string{"line": "4", "site": "fab2"},
				Headers: map[string]string{"Authorization": "Basic eDp5"},
			},
		},
	}

	stations, err := BuildStations(cfg)
	if err != nil {
		t.Fatalf("BuildStations() error = %v", err)
	}

	st := stations[0]
	if st.Enabled() {
		t.Error("Enabled() = true, want false")
	}
	if !reflect.DeepEqual(st.Labels(), map[string]string{"line": "4", "site": "fab2"}) {
		t.Errorf("Labels() = %v", st.Labels())
	}
	if st.Headers()["Authorization"] != "Basic eDp5" {
		t.Errorf("Headers() = %v", st.Headers())
	}
}

func TestBuildStations_Grid(t *testing.T) {
	cfg := &Config{
		Stations: []StationConfig{
			{ID: "solo", URL: "http://10.20.9.9/"},
		},
		Grids: []GridConfig{
			{
				ID:          "ess",
				Name:        "ESS",
				URLTemplate: "http://10.20.{{.bay}}.{{.unit}}/",
				Dimensions: map[string][]string{
					"bay":  {"1", "2"},
					"unit": {"8"},
				},
				Labels:  map[string]string{"site": "fab2"},
				Enabled: boolPtr(false),
			},
		},
	}

	stations, err := BuildStations(cfg)
	if err != nil {
		t.Fatalf("BuildStations() error = %v", err)
	}

	var ids []string
	for _, st := range stations {
		ids = append(ids, st.ID())
	}
	if want := []string{"solo", "ess-1-8", "ess-2-8"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}

	grid := stations[1]
	if grid.URL() != "http://10.20.1.8/" {
		t.Errorf("URL() = %q", grid.URL())
	}
	if grid.Name() != "ESS (1/8)" {
		t.Errorf("Name() = %q", grid.Name())
	}
	if grid.Labels()["site"] != "fab2" || grid.Labels()["bay"] != "1" {
		t.Errorf("Labels() = %v", grid.Labels())
	}
	if grid.Enabled() {
		t.Error("grid station enabled, want disabled")
	}
}

func TestBuildStations_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want string
	}{
		{
			name: "invalid station id",
			cfg:  &Config{Stations: []StationConfig{{ID: "ess 08", URL: "http://10.20.0.8/"}}},
			want: "station ess 08",
		},
		{
			name: "template references unknown key",
			cfg: &Config{Grids: []GridConfig{{
				ID:          "ess",
				URLTemplate: "http://{{.missing}}/",
				Dimensions:  map[string][]string{"unit": {"8"}},
			}}},
			want: "grid ess",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildStations(tt.cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.want)
			}
		})
	}
}

func TestOptions_RoundTrip(t *testing.T) {
	yaml := `
title: Fab 2
port: 9191
poll_interval: 20s
fetch_timeout: 3s
cache_ttl: 15s
user_agent: fab2-watch
autostart: true
extractor:
  inactive_colors: [grey]
stations:
  - id: ess08
    url: http://10.20.0.8/
grids:
  - id: ess
    url_template: "http://10.20.0.{{.unit}}/"
    dimensions:
      unit: ["9", "10"]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	opts, err := Options(cfg)
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}

	w, err := stationwatch.New(opts...)
	if err != nil {
		t.Fatalf("stationwatch.New() error = %v", err)
	}

	if w.Port() != 9191 {
		t.Errorf("Port() = %d, want 9191", w.Port())
	}
	if w.PollingInterval() != 20*time.Second {
		t.Errorf("PollingInterval() = %v, want 20s", w.PollingInterval())
	}
	if len(w.Stations()) != 3 {
		t.Errorf("len(Stations()) = %d, want 3", len(w.Stations()))
	}
}

func TestOptions_DuplicateAcrossGridAndStation(t *testing.T) {
	cfg := &Config{
		Port:         8080,
		PollInterval: Duration(time.Minute),
		FetchTimeout: Duration(10 * time.Second),
		Stations:     []StationConfig{{ID: "ess-8", URL: "http://10.20.0.8/"}},
		Grids: []GridConfig{{
			ID:          "ess",
			URLTemplate: "http://10.20.0.{{.unit}}/",
			Dimensions:  map[string][]string{"unit": {"8"}},
		}},
	}

	opts, err := Options(cfg)
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}
	if _, err := stationwatch.New(opts...); err == nil || !strings.Contains(err.Error(), "duplicate station id") {
		t.Errorf("New() error = %v, want duplicate station id", err)
	}
}

func TestMapToKeyValuePairs(t *testing.T) {
	got := mapToKeyValuePairs(map[string]string{"b": "2", "a": "1"})
	if want := []string{"a", "1", "b", "2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("mapToKeyValuePairs() = %v, want %v", got, want)
	}
}
