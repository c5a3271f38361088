package scrape

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jpalmerr/stationwatch/internal/metrics"
	"github.com/jpalmerr/stationwatch/snapshot"
)

// DefaultUserAgent identifies as a desktop browser; some station web
// servers reject requests without one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// DefaultTimeout bounds a single page fetch.
const DefaultTimeout = 10 * time.Second

// Scraper fetches a station page and parses it into a snapshot.
//
// Scrape is the extractor boundary: transport failures and structural parse
// failures both come back as failure snapshots, never as errors.
type Scraper struct {
	client    *Client
	parser    *Parser
	timeout   time.Duration
	userAgent string
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// Option configures a [Scraper].
type Option func(*Scraper)

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scraper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithUserAgent overrides [DefaultUserAgent].
func WithUserAgent(ua string) Option {
	return func(s *Scraper) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithMetrics records scrape outcomes and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scraper) {
		s.metrics = m
	}
}

// NewScraper creates a [Scraper] around parser.
func NewScraper(parser *Parser, logger zerolog.Logger, opts ...Option) *Scraper {
	s := &Scraper{
		client:    NewClient(),
		parser:    parser,
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
		logger:    logger.With().Str("component", "scraper").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape fetches src's status page and returns its snapshot.
func (s *Scraper) Scrape(ctx context.Context, src snapshot.Source) snapshot.Snapshot {
	start := time.Now()

	resp := s.client.Fetch(ctx, src.Locator, s.headers(src), s.timeout)

	var snap snapshot.Snapshot
	switch {
	case resp.Error != nil:
		snap = snapshot.Failed(src, &TransportError{URL: src.Locator, Err: resp.Error}, s.parser.now())
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snap = snapshot.Failed(src, &TransportError{URL: src.Locator, StatusCode: resp.StatusCode}, s.parser.now())
	default:
		snap = s.parser.Parse(resp.Body, src)
	}

	elapsed := time.Since(start)
	s.metrics.ObserveScrape(src.ID, string(snap.Outcome), elapsed)

	if snap.Succeeded() {
		s.logger.Debug().
			Str("station", src.ID).
			Int("status_code", resp.StatusCode).
			Int("slots", len(snap.Slots)).
			Int64("fetch_ms", resp.Latency.Milliseconds()).
			Int64("latency_ms", elapsed.Milliseconds()).
			Msg("station scraped")
	} else {
		s.logger.Warn().
			Str("station", src.ID).
			Str("url", src.Locator).
			Int("status_code", resp.StatusCode).
			Int64("fetch_ms", resp.Latency.Milliseconds()).
			Int64("latency_ms", elapsed.Milliseconds()).
			Str("error", snap.Error).
			Msg("station scrape failed")
	}

	return snap
}

// Close releases idle connections.
func (s *Scraper) Close() {
	s.client.Close()
}

func (s *Scraper) headers(src snapshot.Source) map[string]string {
	h := make(map[string]string, len(src.Headers)+2)
	h["User-Agent"] = s.userAgent
	h["Accept"] = "text/html,application/xhtml+xml"
	for k, v := range src.Headers {
		h[http.CanonicalHeaderKey(k)] = v
	}
	return h
}
