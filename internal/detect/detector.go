package detect

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/jpalmerr/stationwatch/snapshot"
)

// Detector compares each observed snapshot with the station's retained one
// and advances the retained state only on change.
type Detector struct {
	// serializes compare-and-update so two observers of the same station
	// cannot both compare against the same stale snapshot
	mu     sync.Mutex
	store  Store
	logger zerolog.Logger
}

// Option configures a [Detector].
type Option func(*Detector)

// WithStore replaces the default [MemoryStore].
func WithStore(s Store) Option {
	return func(d *Detector) {
		if s != nil {
			d.store = s
		}
	}
}

// New creates a [Detector].
func New(logger zerolog.Logger, opts ...Option) *Detector {
	d := &Detector{
		store:  NewMemoryStore(),
		logger: logger.With().Str("component", "detector").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Observe compares cur with the retained snapshot for its station and, when
// anything changed, retains a copy of cur.
func (d *Detector) Observe(cur snapshot.Snapshot) snapshot.Delta {
	d.mu.Lock()
	defer d.mu.Unlock()

	var prev *snapshot.Snapshot
	if p, ok := d.store.Get(cur.SourceID); ok {
		prev = &p
	}

	delta := Compare(prev, cur)
	if delta.HasChanges {
		d.store.Put(cur.Clone())
	}

	if len(delta.SlotTransitions) > 0 {
		ev := d.logger.Info().
			Str("station", cur.SourceID).
			Int("transitions", len(delta.SlotTransitions))
		if len(delta.NewlyFailing) > 0 {
			ev = ev.Strs("newly_failing", delta.NewlyFailing)
		}
		ev.Msg("slot status changed")
	}

	return delta
}

// Previous returns a copy of the retained snapshot for id.
func (d *Detector) Previous(id string) (snapshot.Snapshot, bool) {
	s, ok := d.store.Get(id)
	if !ok {
		return snapshot.Snapshot{}, false
	}
	return s.Clone(), true
}

// Forget drops the retained state for id, so its next observation counts
// as a first one.
func (d *Detector) Forget(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Delete(id)
}

// Reset drops all retained state and returns how many stations were cleared.
func (d *Detector) Reset() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.store.Clear()
	d.logger.Info().Int("stations", n).Msg("change history cleared")
	return n
}

// Len returns the number of stations with retained state.
func (d *Detector) Len() int {
	return len(d.store.IDs())
}
