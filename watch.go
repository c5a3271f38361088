package stationwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jpalmerr/stationwatch/dashboard"
	"github.com/jpalmerr/stationwatch/internal/cache"
	"github.com/jpalmerr/stationwatch/internal/detect"
	"github.com/jpalmerr/stationwatch/internal/hub"
	"github.com/jpalmerr/stationwatch/internal/metrics"
	"github.com/jpalmerr/stationwatch/internal/poller"
	"github.com/jpalmerr/stationwatch/internal/scrape"
	"github.com/jpalmerr/stationwatch/internal/server"
	"github.com/jpalmerr/stationwatch/snapshot"
)

const defaultPort = 8080

// Watcher polls test station status pages, detects slot transitions and
// streams them to dashboard subscribers.
//
// A Watcher is created with [New] and run with [Watcher.Start]:
//
//	w, err := stationwatch.New(
//	    stationwatch.WithStations(stations...),
//	    stationwatch.WithAutoStart(true),
//	)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("invalid configuration")
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	w.Start(ctx) // blocks until ctx is cancelled
type Watcher struct {
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
	logger          zerolog.Logger
	metrics         *metrics.Metrics
	eventCallbacks  []func(snapshot.Event)
}

// New creates a [Watcher] from the given options.
//
// At least one station is required and station ids must be unique.
// Defaults: 60s polling, port 8080, 10s fetch timeout, 30s cache TTL,
// scheduler stopped until started over the API.
func New(opts ...Option) (*Watcher, error) {
	cfg := &watchConfig{
		pollingInterval: poller.DefaultInterval,
		port:            defaultPort,
		fetchTimeout:    scrape.DefaultTimeout,
		cacheTTL:        cache.DefaultTTL,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.stations) == 0 {
		return nil, errors.New("at least one station is required")
	}

	seen := make(map[string]bool, len(cfg.stations))
	for _, st := range cfg.stations {
		if st.id == "" {
			return nil, errors.New("station created without NewStation")
		}
		if seen[st.id] {
			return nil, fmt.Errorf("duplicate station id: %q", st.id)
		}
		seen[st.id] = true
	}

	logger := log.Logger
	if cfg.logger != nil {
		logger = *cfg.logger
	}

	m := metrics.New()
	if cfg.registry != nil {
		m = metrics.NewWithRegistry(cfg.registry)
	}

	return &Watcher{
		title:           cfg.title,
		version:         cfg.version,
		stations:        cfg.stations,
		pollingInterval: cfg.pollingInterval,
		port:            cfg.port,
		fetchTimeout:    cfg.fetchTimeout,
		cacheTTL:        cfg.cacheTTL,
		userAgent:       cfg.userAgent,
		inactiveColors:  cfg.inactiveColors,
		autoStart:       cfg.autoStart,
		logger:          logger,
		metrics:         m,
		eventCallbacks:  cfg.eventCallbacks,
	}, nil
}

// Start runs the polling pipeline and the HTTP server until ctx is
// cancelled.
//
// Start wires the extractor, the source cache, the change detector, the
// broadcast hub and the scheduler, then serves the dashboard, the control
// API and the event streams on the configured port. With [WithAutoStart]
// the first cycle over every enabled station runs immediately.
//
// On cancellation the scheduler is stopped, an in-flight cycle is allowed
// to finish, and every stream subscriber is disconnected.
//
// Returns nil on graceful shutdown and an error if the port cannot be bound.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info().
		Int("stations", len(w.stations)).
		Dur("interval", w.pollingInterval).
		Int("port", w.port).
		Msg("stationwatch starting")

	if ctx.Err() != nil {
		return nil
	}

	registry := newStationRegistry(w.stations)

	parserOpts := []scrape.ParserOption{}
	if len(w.inactiveColors) > 0 {
		parserOpts = append(parserOpts, scrape.WithColorStates(scrape.InactiveColors(w.inactiveColors...)))
	}
	scraper := scrape.NewScraper(
		scrape.NewParser(w.logger, parserOpts...),
		w.logger,
		scrape.WithTimeout(w.fetchTimeout),
		scrape.WithUserAgent(w.userAgent),
		scrape.WithMetrics(w.metrics),
	)
	sourceCache := cache.New(scraper, w.logger,
		cache.WithTTL(w.cacheTTL),
		cache.WithMetrics(w.metrics),
	)
	detector := detect.New(w.logger)
	events := hub.New(w.logger, hub.WithMetrics(w.metrics))

	scheduler := poller.NewScheduler(poller.Config{
		Registry:  registry,
		Cache:     sourceCache,
		Detector:  detector,
		Publisher: &callbackPublisher{next: events, callbacks: w.eventCallbacks, logger: w.logger},
		Interval:  w.pollingInterval,
		Logger:    w.logger,
		Metrics:   w.metrics,
	})

	cleanup := func() {
		scheduler.Stop()
		scheduler.Wait()
		events.Close()
		scraper.Close()
	}

	httpServer := server.NewServer(server.Config{
		Port:       w.port,
		Title:      w.title,
		Version:    w.version,
		Assets:     dashboard.Assets,
		Controller: &controller{Scheduler: scheduler, ctx: ctx},
		Stations:   registry,
		Cache:      sourceCache,
		History:    detector,
		Hub:        events,
		Logger:     w.logger,
		Metrics:    w.metrics,
	})
	if err := httpServer.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	w.logger.Info().Str("url", fmt.Sprintf("http://localhost:%d", w.port)).Msg("dashboard available")

	if w.autoStart {
		scheduler.SetActiveSources(registry.enabledIDs())
		scheduler.Start(ctx)
	}

	<-ctx.Done()
	cleanup()
	w.logger.Info().Msg("stationwatch stopped")
	return nil
}

// Stations returns a copy of the configured stations.
func (w *Watcher) Stations() []Station {
	cp := make([]Station, len(w.stations))
	copy(cp, w.stations)
	return cp
}

// Port returns the configured HTTP port.
func (w *Watcher) Port() int {
	return w.port
}

// PollingInterval returns the period between poll cycles.
func (w *Watcher) PollingInterval() time.Duration {
	return w.pollingInterval
}

// stationRegistry is the read-only station lookup shared by the scheduler
// and the API.
type stationRegistry struct {
	order []snapshot.Source
	byID  map[string]snapshot.Source
}

func newStationRegistry(stations []Station) *stationRegistry {
	r := &stationRegistry{
		order: make([]snapshot.Source, len(stations)),
		byID:  make(map[string]snapshot.Source, len(stations)),
	}
	for i, st := range stations {
		src := st.source()
		r.order[i] = src
		r.byID[src.ID] = src
	}
	return r
}

func (r *stationRegistry) Source(id string) (snapshot.Source, bool) {
	src, ok := r.byID[id]
	return src, ok
}

func (r *stationRegistry) Sources() []snapshot.Source {
	cp := make([]snapshot.Source, len(r.order))
	copy(cp, r.order)
	return cp
}

func (r *stationRegistry) enabledIDs() []string {
	ids := make([]string, 0, len(r.order))
	for _, src := range r.order {
		if src.Enabled {
			ids = append(ids, src.ID)
		}
	}
	return ids
}

// controller binds API-initiated scheduler starts to the watcher's context,
// so a scheduler started over HTTP still stops on shutdown.
type controller struct {
	*poller.Scheduler
	ctx context.Context
}

func (c *controller) Start() bool {
	return c.Scheduler.Start(c.ctx)
}

// callbackPublisher runs the registered event callbacks before handing the
// event to the hub.
type callbackPublisher struct {
	next      poller.Publisher
	callbacks []func(snapshot.Event)
	logger    zerolog.Logger
	mu        sync.Mutex
}

func (p *callbackPublisher) Publish(ev snapshot.Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if len(p.callbacks) > 0 {
		// sweeps and ad-hoc checks can publish concurrently; callbacks see
		// one event at a time
		p.mu.Lock()
		for _, cb := range p.callbacks {
			invokeCallbackSafe(cb, ev, p.logger)
		}
		p.mu.Unlock()
	}
	return p.next.Publish(ev)
}

// invokeCallbackSafe calls cb with panic recovery. Panics are logged with a
// correlation id and never propagate.
func invokeCallbackSafe(cb func(snapshot.Event), ev snapshot.Event, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("panic_id", uuid.NewString()).
				Interface("panic", r).
				Str("event", string(ev.Type)).
				Msg("event callback panicked")
		}
	}()
	cb(ev)
}
