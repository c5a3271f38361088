// Package config loads stationwatch YAML configuration files.
//
// A configuration file is the CLI's alternative to building a watcher with
// the SDK options:
//
//	title: Fab 2 testers
//	port: 8080
//	poll_interval: 60s
//	fetch_timeout: 10s
//	autostart: true
//
//	extractor:
//	  inactive_colors: ["#aaa", "#aaaaaa"]
//
//	stations:
//	  - id: ess08
//	    name: ESS08
//	    url: http://${ESS08_HOST:-10.20.0.8}/
//	    labels: {line: "4"}
//
//	grids:
//	  - id: ess
//	    name: ESS
//	    url_template: "http://10.20.{{.bay}}.{{.unit}}/"
//	    dimensions:
//	      bay: ["1", "2"]
//	      unit: ["8", "9"]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Defaults and bounds applied by [Parse].
const (
	DefaultPort         = 8080
	DefaultPollInterval = 60 * time.Second
	DefaultFetchTimeout = 10 * time.Second
	DefaultCacheTTL     = 30 * time.Second
	DefaultLogLevel     = "info"

	MinPollInterval = 10 * time.Second
	MinFetchTimeout = time.Second
	MaxFetchTimeout = 60 * time.Second
)

// Config is the root of a configuration file. Use [Load] or [Parse].
type Config struct {
	// Title is the dashboard title.
	Title string `yaml:"title"`

	// Port is the HTTP port. Defaults to 8080.
	Port int `yaml:"port"`

	// PollInterval is the period between poll cycles ("60s", "2m").
	// Defaults to 60s; must be at least 10s.
	PollInterval Duration `yaml:"poll_interval"`

	// FetchTimeout bounds a single page fetch. Defaults to 10s; 1s to 60s.
	FetchTimeout Duration `yaml:"fetch_timeout"`

	// CacheTTL is how long a fetched snapshot answers repeat lookups.
	CacheTTL Duration `yaml:"cache_ttl"`

	// UserAgent overrides the browser User-Agent sent to stations.
	UserAgent string `yaml:"user_agent"`

	// LogLevel is a zerolog level name. Defaults to "info".
	LogLevel string `yaml:"log_level"`

	// AutoStart starts the scheduler over every enabled station at startup.
	AutoStart bool `yaml:"autostart"`

	Extractor ExtractorConfig `yaml:"extractor"`

	Stations []StationConfig `yaml:"stations"`
	Grids    []GridConfig    `yaml:"grids"`
}

// ExtractorConfig tunes markup extraction.
type ExtractorConfig struct {
	// InactiveColors are the inline link colors marking an idle sub-slot.
	// Empty keeps the built-in greys.
	InactiveColors []string `yaml:"inactive_colors"`
}

// StationConfig defines one station.
type StationConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// URL of the status page. Supports ${VAR} and ${VAR:-default}.
	URL string `yaml:"url"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`

	Labels map[string]string `yaml:"labels"`

	// Headers are sent with every fetch. Values support env substitution.
	Headers map[string]string `yaml:"headers"`
}

// GridConfig defines a set of stations generated from a URL template by
// cartesian product over its dimensions.
type GridConfig struct {
	// ID prefixes the generated station ids.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// URLTemplate uses text/template syntax with dimension keys as
	// variables. Supports env substitution.
	URLTemplate string              `yaml:"url_template"`
	Dimensions  map[string][]string `yaml:"dimensions"`

	Enabled *bool             `yaml:"enabled"`
	Labels  map[string]string `yaml:"labels"`
	Headers map[string]string `yaml:"headers"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
// An unset variable without a default is an error.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, fallback := sub[1], sub[2] != "", sub[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return fallback
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults, expands
// environment variables and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(DefaultPollInterval)
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = Duration(DefaultFetchTimeout)
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = Duration(DefaultCacheTTL)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PollInterval.Duration() < MinPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", MinPollInterval, c.PollInterval.Duration())
	}
	if ft := c.FetchTimeout.Duration(); ft < MinFetchTimeout || ft > MaxFetchTimeout {
		return fmt.Errorf("fetch_timeout must be between %s and %s, got %s", MinFetchTimeout, MaxFetchTimeout, ft)
	}
	if c.CacheTTL.Duration() < 0 {
		return fmt.Errorf("cache_ttl cannot be negative, got %s", c.CacheTTL.Duration())
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	ua, err := expandEnvVars(c.UserAgent)
	if err != nil {
		return fmt.Errorf("user_agent: %w", err)
	}
	c.UserAgent = ua

	for i, color := range c.Extractor.InactiveColors {
		if strings.TrimSpace(color) == "" {
			return fmt.Errorf("extractor.inactive_colors[%d]: color cannot be empty", i)
		}
	}

	ids := make(map[string]int, len(c.Stations))
	for i := range c.Stations {
		st := &c.Stations[i]

		if st.ID == "" {
			return fmt.Errorf("stations[%d]: id is required", i)
		}
		if prev, dup := ids[st.ID]; dup {
			return fmt.Errorf("stations[%d] (%s): duplicate id, first defined at stations[%d]", i, st.ID, prev)
		}
		ids[st.ID] = i

		if st.URL == "" {
			return fmt.Errorf("stations[%d] (%s): url is required", i, st.ID)
		}
		expanded, err := expandEnvVars(st.URL)
		if err != nil {
			return fmt.Errorf("stations[%d] (%s): url: %w", i, st.ID, err)
		}
		st.URL = expanded

		if err := validateURL(st.URL); err != nil {
			return fmt.Errorf("stations[%d] (%s): %w", i, st.ID, err)
		}

		if err := expandHeaders(st.Headers); err != nil {
			return fmt.Errorf("stations[%d] (%s): %w", i, st.ID, err)
		}
	}

	for i := range c.Grids {
		g := &c.Grids[i]

		if g.ID == "" {
			return fmt.Errorf("grids[%d]: id is required", i)
		}

		if g.URLTemplate == "" {
			return fmt.Errorf("grids[%d] (%s): url_template is required", i, g.ID)
		}
		expanded, err := expandEnvVars(g.URLTemplate)
		if err != nil {
			return fmt.Errorf("grids[%d] (%s): url_template: %w", i, g.ID, err)
		}
		g.URLTemplate = expanded

		if _, err := template.New("").Parse(g.URLTemplate); err != nil {
			return fmt.Errorf("grids[%d] (%s): invalid url_template: %w", i, g.ID, err)
		}

		if len(g.Dimensions) == 0 {
			return fmt.Errorf("grids[%d] (%s): at least one dimension is required", i, g.ID)
		}
		for dim, values := range g.Dimensions {
			if len(values) == 0 {
				return fmt.Errorf("grids[%d] (%s): dimension %q has no values", i, g.ID, dim)
			}
			seen := make(map[string]struct{}, len(values))
			for _, v := range values {
				if _, exists := seen[v]; exists {
					return fmt.Errorf("grids[%d] (%s): dimension %q has duplicate value %q", i, g.ID, dim, v)
				}
				seen[v] = struct{}{}
			}
		}

		if err := expandHeaders(g.Headers); err != nil {
			return fmt.Errorf("grids[%d] (%s): %w", i, g.ID, err)
		}
	}

	if len(c.Stations) == 0 && len(c.Grids) == 0 {
		return errors.New("at least one station or grid must be defined")
	}

	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url must include a host")
	}
	return nil
}

func expandHeaders(headers map[string]string) error {
	for k, v := range headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		headers[k] = expanded
	}
	return nil
}
