package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jpalmerr/stationwatch/internal/metrics"
	"github.com/jpalmerr/stationwatch/snapshot"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 60 * time.Second

// MinInterval is the shortest sweep period accepted. Station web servers
// are small embedded boxes and are not polled harder than this.
const MinInterval = 10 * time.Second

// minInterval is the enforced floor; tests lower it.
var minInterval = MinInterval

// ErrUnknownSource is returned for ad-hoc lookups of an unregistered station.
var ErrUnknownSource = errors.New("unknown station")

// Registry resolves station ids to their current configuration.
type Registry interface {
	Source(id string) (snapshot.Source, bool)
}

// Cache returns a recent snapshot for a station, scraping on a miss.
type Cache interface {
	GetOrFetch(ctx context.Context, src snapshot.Source) (snapshot.Snapshot, error)
}

// Detector compares a snapshot with the station's retained state.
type Detector interface {
	Observe(cur snapshot.Snapshot) snapshot.Delta
	Len() int
}

// Publisher fans events out to subscribers.
type Publisher interface {
	Publish(ev snapshot.Event) int
}

// Config holds the collaborators and settings of a [Scheduler].
type Config struct {
	Registry  Registry
	Cache     Cache
	Detector  Detector
	Publisher Publisher

	// Interval between sweeps. Zero means DefaultInterval; anything below
	// MinInterval is raised to it.
	Interval time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running         bool       `json:"isRunning"`
	ActiveCount     int        `json:"activeCount"`
	ActiveSources   []string   `json:"activeStations"`
	IntervalMs      int64      `json:"intervalMs"`
	NextCycle       *time.Time `json:"nextCycle"`
	CycleInProgress bool       `json:"cycleInProgress"`
	Cycles          uint64     `json:"cycles"`
	LastCycleAt     *time.Time `json:"lastCycleAt,omitempty"`
	LastCycleMs     int64      `json:"lastCycleMs"`
	RetainedCount   int        `json:"retainedCount"`
}

// Scheduler sweeps the active stations on a fixed period.
//
// Each sweep visits stations strictly one after another, so one slow or
// unreachable station delays the rest instead of multiplying outbound
// connections. A tick that arrives while a sweep is still running is
// skipped, never queued.
//
// Lifecycle methods are safe for concurrent use. A stopped scheduler may be
// started again.
type Scheduler struct {
	registry  Registry
	cache     Cache
	detector  Detector
	publisher Publisher
	interval  time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	active    []string
	nextCycle time.Time
	cycles    uint64
	lastAt    time.Time
	lastDur   time.Duration

	inCycle atomic.Bool
	loops   sync.WaitGroup
	sweeps  sync.WaitGroup
}

// NewScheduler creates a stopped [Scheduler].
func NewScheduler(cfg Config) *Scheduler {
	logger := cfg.Logger.With().Str("component", "scheduler").Logger()

	interval := cfg.Interval
	switch {
	case interval == 0:
		interval = DefaultInterval
	case interval < minInterval:
		logger.Warn().
			Dur("requested", interval).
			Dur("minimum", minInterval).
			Msg("poll interval below minimum, raised")
		interval = minInterval
	}

	return &Scheduler{
		registry:  cfg.Registry,
		cache:     cfg.Cache,
		detector:  cfg.Detector,
		publisher: cfg.Publisher,
		interval:  interval,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// Interval returns the effective sweep period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start runs one sweep immediately and then one per interval, in the
// background. It returns false without doing anything when already running.
//
// ctx bounds every sweep of this run: cancelling it aborts in-flight fetches
// and stops the scheduler. If ctx is nil, context.Background() is used.
func (s *Scheduler) Start(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	stop := make(chan struct{})
	s.stop = stop
	s.nextCycle = time.Now().Add(s.interval)
	active := len(s.active)
	s.loops.Add(1)
	s.mu.Unlock()

	s.logger.Info().
		Dur("interval", s.interval).
		Int("active_stations", active).
		Msg("scheduler started")

	go s.loop(ctx, stop)
	return true
}

// Stop halts the ticker. It returns false when the scheduler was not
// running. No sweep starts after Stop returns; a sweep already in progress
// runs to completion. Use [Scheduler.Wait] to block until it has.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	close(s.stop)
	s.stop = nil
	s.mu.Unlock()

	s.logger.Info().Msg("scheduler stopped")
	return true
}

// Wait blocks until the ticker goroutine and any in-progress sweep have
// exited. Call it after Stop or after cancelling the Start context.
func (s *Scheduler) Wait() {
	s.loops.Wait()
	s.sweeps.Wait()
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, stop chan struct{}) {
	defer s.loops.Done()

	s.trigger(ctx, stop)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.stop == stop {
				s.running = false
				s.stop = nil
			}
			s.mu.Unlock()
			s.logger.Info().Msg("scheduler context done")
			return
		case t := <-ticker.C:
			s.mu.Lock()
			if s.stop == stop {
				s.nextCycle = t.Add(s.interval)
			}
			s.mu.Unlock()
			s.trigger(ctx, stop)
		}
	}
}

// trigger begins a sweep unless one is already in progress or the run that
// owns stop has ended.
func (s *Scheduler) trigger(ctx context.Context, stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != stop {
		return
	}
	if !s.inCycle.CompareAndSwap(false, true) {
		s.metrics.TickSkipped()
		s.logger.Warn().Msg("previous cycle still running, tick skipped")
		return
	}

	s.sweeps.Add(1)
	go func() {
		defer s.sweeps.Done()
		defer s.inCycle.Store(false)
		s.sweep(ctx)
	}()
}

// sweep visits the active set captured at its start.
func (s *Scheduler) sweep(ctx context.Context) {
	start := time.Now()
	ids := s.ActiveSources()

	snaps := make([]snapshot.Snapshot, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			s.logger.Info().Int("remaining", len(ids)-len(snaps)).Msg("cycle aborted")
			break
		}
		if snap, ok := s.pollSource(ctx, id); ok {
			snaps = append(snaps, snap)
		}
	}

	if len(snaps) > 0 {
		s.publisher.Publish(snapshot.BatchUpdate(snaps))
	}

	elapsed := time.Since(start)
	s.mu.Lock()
	s.cycles++
	s.lastAt = start
	s.lastDur = elapsed
	s.mu.Unlock()

	s.metrics.ObserveCycle(elapsed)
	s.logger.Info().
		Int("stations", len(snaps)).
		Int64("duration_ms", elapsed.Milliseconds()).
		Msg("cycle complete")
}

func (s *Scheduler) pollSource(ctx context.Context, id string) (snapshot.Snapshot, bool) {
	src, ok := s.registry.Source(id)
	if !ok {
		s.logger.Warn().Str("station", id).Msg("active station not configured, skipped")
		return snapshot.Snapshot{}, false
	}
	if !src.Enabled {
		s.logger.Debug().Str("station", id).Msg("station disabled, skipped")
		return snapshot.Snapshot{}, false
	}

	snap := s.fetch(ctx, src)
	s.observe(snap)
	return snap, true
}

// fetch never fails: a cache error or a panic below it becomes a failure
// snapshot so one bad station cannot abort the sweep.
func (s *Scheduler) fetch(ctx context.Context, src snapshot.Source) (snap snapshot.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error().
				Str("correlation_id", correlationID).
				Str("station", src.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("station poll panic")
			snap = snapshot.Failed(src, fmt.Errorf("poll panic (correlation_id: %s)", correlationID), time.Now())
		}
	}()

	snap, err := s.cache.GetOrFetch(ctx, src)
	if err != nil {
		s.logger.Warn().Str("station", src.ID).Err(err).Msg("station lookup failed")
		return snapshot.Failed(src, err, time.Now())
	}
	return snap
}

func (s *Scheduler) observe(snap snapshot.Snapshot) snapshot.Delta {
	delta := s.detector.Observe(snap)
	if delta.HasChanges {
		s.publisher.Publish(snapshot.SourceUpdate(delta))
	}
	return delta
}

// Snapshot returns a cached or freshly scraped snapshot of id without
// running change detection.
func (s *Scheduler) Snapshot(ctx context.Context, id string) (snapshot.Snapshot, error) {
	src, ok := s.registry.Source(id)
	if !ok {
		return snapshot.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return s.fetch(ctx, src), nil
}

// CheckNow looks id up like [Scheduler.Snapshot], then runs change
// detection and publishes a source-update when something changed.
func (s *Scheduler) CheckNow(ctx context.Context, id string) (snapshot.Delta, error) {
	src, ok := s.registry.Source(id)
	if !ok {
		return snapshot.Delta{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return s.observe(s.fetch(ctx, src)), nil
}

// SetActiveSources replaces the active set. Duplicates are dropped, order
// is kept. A sweep in progress keeps the set it started with.
func (s *Scheduler) SetActiveSources(ids []string) {
	set := dedupe(ids)

	s.mu.Lock()
	s.active = set
	s.mu.Unlock()

	s.logger.Info().Strs("stations", set).Msg("active stations set")
}

// AddActiveSource appends id to the active set. It reports false when id
// was already active.
func (s *Scheduler) AddActiveSource(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.active {
		if existing == id {
			return false
		}
	}
	s.active = append(append([]string(nil), s.active...), id)
	return true
}

// RemoveActiveSource drops id from the active set. It reports false when id
// was not active.
func (s *Scheduler) RemoveActiveSource(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.active {
		if existing == id {
			next := make([]string, 0, len(s.active)-1)
			next = append(next, s.active[:i]...)
			s.active = append(next, s.active[i+1:]...)
			return true
		}
	}
	return false
}

// ActiveSources returns a copy of the active set.
func (s *Scheduler) ActiveSources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.active...)
}

// Status reports the scheduler state. NextCycle is an estimate and is nil
// when stopped.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{
		Running:         s.running,
		ActiveCount:     len(s.active),
		ActiveSources:   append([]string{}, s.active...),
		IntervalMs:      s.interval.Milliseconds(),
		CycleInProgress: s.inCycle.Load(),
		Cycles:          s.cycles,
		LastCycleMs:     s.lastDur.Milliseconds(),
	}
	if s.running {
		next := s.nextCycle
		st.NextCycle = &next
	}
	if !s.lastAt.IsZero() {
		last := s.lastAt
		st.LastCycleAt = &last
	}
	s.mu.Unlock()

	st.RetainedCount = s.detector.Len()
	return st
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
