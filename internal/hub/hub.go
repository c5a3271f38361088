// Package hub fans events out to live stream subscribers.
//
// Delivery is at most once per subscriber and never blocks the publisher.
// A subscriber whose buffer is full when an event arrives is treated as a
// failed write: it is removed and its channel closed, so the stream handler
// on the other end notices and disconnects. Late joiners get no replay.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jpalmerr/stationwatch/internal/metrics"
	"github.com/jpalmerr/stationwatch/snapshot"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 100

// Subscription is one subscriber's handle. C is closed when the
// subscription ends for any reason.
type Subscription struct {
	ID string
	C  <-chan snapshot.Event

	ch chan snapshot.Event
}

// Hub is the set of live subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	buffer  int
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a [Hub].
type Option func(*Hub)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

// WithMetrics records publishes, subscriber counts and drops.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// New creates an empty [Hub].
func New(logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[string]*Subscription),
		buffer: DefaultBuffer,
		now:    time.Now,
		logger: logger.With().Str("component", "hub").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new subscriber. After [Hub.Close] the returned
// subscription is already closed.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan snapshot.Event, h.buffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return sub
	}
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	h.logger.Debug().Str("subscriber", sub.ID).Int("subscribers", n).Msg("subscriber added")
	return sub
}

// Unsubscribe removes sub and closes its channel. It reports false when sub
// was already gone. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	h.mu.Lock()
	removed := h.removeLocked(sub.ID)
	n := len(h.subs)
	h.mu.Unlock()

	if removed {
		h.metrics.SetSubscribers(n)
		h.logger.Debug().Str("subscriber", sub.ID).Int("subscribers", n).Msg("subscriber removed")
	}
	return removed
}

// Publish delivers ev to every live subscriber and returns how many
// received it. A zero Timestamp is set to the current time.
func (h *Hub) Publish(ev snapshot.Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}

	var (
		delivered int
		full      []string
	)

	// sends happen under the read lock and closes under the write lock, so
	// a send never races a close
	h.mu.RLock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			full = append(full, id)
		}
	}
	h.mu.RUnlock()

	h.metrics.EventPublished(string(ev.Type))

	if len(full) == 0 {
		return delivered
	}

	h.mu.Lock()
	for _, id := range full {
		if h.removeLocked(id) {
			h.metrics.SubscriberDropped()
			h.logger.Warn().Str("subscriber", id).Str("event", string(ev.Type)).Msg("subscriber buffer full, dropped")
		}
	}
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	return delivered
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes every subscriber. Later subscriptions are closed on arrival.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for id := range h.subs {
		h.removeLocked(id)
	}
	h.mu.Unlock()

	h.metrics.SetSubscribers(0)
}

func (h *Hub) removeLocked(id string) bool {
	sub, ok := h.subs[id]
	if !ok {
		return false
	}
	delete(h.subs, id)
	close(sub.ch)
	return true
}
