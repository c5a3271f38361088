// Package cache holds recent station snapshots so the scheduler and ad-hoc
// HTTP lookups share scrapes.
//
// An entry is served while it is younger than the TTL and its locator still
// matches the station's current URL. Concurrent misses for the same station
// share a single scrape.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jpalmerr/stationwatch/internal/metrics"
	"github.com/jpalmerr/stationwatch/snapshot"
)

// DefaultTTL is how long a snapshot is served before a rescrape.
const DefaultTTL = 30 * time.Second

// Fetcher produces a snapshot for a station. Implementations never fail;
// transport problems come back as failure snapshots.
type Fetcher interface {
	Scrape(ctx context.Context, src snapshot.Source) snapshot.Snapshot
}

// EntryStat describes one cached entry.
type EntryStat struct {
	SourceID   string        `json:"id"`
	Locator    string        `json:"url"`
	InsertedAt time.Time     `json:"insertedAt"`
	Age        time.Duration `json:"-"`
	AgeMs      int64         `json:"ageMs"`
	Expired    bool          `json:"expired"`
}

type entry struct {
	snap       snapshot.Snapshot
	locator    string
	insertedAt time.Time
}

// Cache is a TTL cache of snapshots keyed by station id.
//
// Cache is safe for concurrent use.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]entry

	flights singleflight.Group
}

// Option configures a [Cache].
type Option func(*Cache)

// WithTTL sets the entry lifetime. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock sets the time source used for entry ages.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithMetrics records hit/miss counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates a [Cache] in front of fetcher.
func New(fetcher Fetcher, logger zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  logger.With().Str("component", "cache").Logger(),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// GetOrFetch returns a fresh cached snapshot for src or scrapes a new one.
//
// The only error is ctx ending while waiting for a scrape. The scrape
// itself is detached from ctx so that other waiters sharing it are not
// cut short; the fetcher's own timeout bounds it.
func (c *Cache) GetOrFetch(ctx context.Context, src snapshot.Source) (snapshot.Snapshot, error) {
	if snap, ok := c.lookup(src); ok {
		c.metrics.CacheLookup(metrics.CacheHit)
		return snap.Clone(), nil
	}

	key := src.ID + "\x00" + src.Locator
	ch := c.flights.DoChan(key, func() (any, error) {
		// a flight that finished between our lookup and DoChan already stored
		if snap, ok := c.lookup(src); ok {
			return snap, nil
		}
		snap := c.fetcher.Scrape(context.WithoutCancel(ctx), src)
		c.store(src, snap)
		return snap, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.CacheLookup(metrics.CacheShared)
		} else {
			c.metrics.CacheLookup(metrics.CacheMiss)
		}
		snap := res.Val.(snapshot.Snapshot)
		return snap.Clone(), nil
	case <-ctx.Done():
		return snapshot.Snapshot{}, fmt.Errorf("waiting for station %s: %w", src.ID, ctx.Err())
	}
}

func (c *Cache) lookup(src snapshot.Source) (snapshot.Snapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[src.ID]
	c.mu.RUnlock()

	if !ok || e.locator != src.Locator {
		return snapshot.Snapshot{}, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		return snapshot.Snapshot{}, false
	}
	return e.snap, true
}

func (c *Cache) store(src snapshot.Source, snap snapshot.Snapshot) {
	c.mu.Lock()
	prev, existed := c.entries[src.ID]
	c.entries[src.ID] = entry{snap: snap, locator: src.Locator, insertedAt: c.now()}
	c.mu.Unlock()

	if existed && prev.locator != src.Locator {
		c.logger.Info().
			Str("station", src.ID).
			Str("old_url", prev.locator).
			Str("new_url", src.Locator).
			Msg("station url changed, entry replaced")
	}
}

// Invalidate drops the entry for id. Unknown ids are ignored.
func (c *Cache) Invalidate(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[id]
	delete(c.entries, id)
	return ok
}

// InvalidateAll drops every entry and returns how many were removed.
func (c *Cache) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]entry)
	return n
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats describes every entry, ordered by station id.
func (c *Cache) Stats() []EntryStat {
	now := c.now()

	c.mu.RLock()
	stats := make([]EntryStat, 0, len(c.entries))
	for id, e := range c.entries {
		age := now.Sub(e.insertedAt)
		stats = append(stats, EntryStat{
			SourceID:   id,
			Locator:    e.locator,
			InsertedAt: e.insertedAt,
			Age:        age,
			AgeMs:      age.Milliseconds(),
			Expired:    age >= c.ttl,
		})
	}
	c.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].SourceID < stats[j].SourceID })
	return stats
}
