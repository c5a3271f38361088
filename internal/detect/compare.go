// Package detect decides whether a station's latest snapshot differs from
// the last one retained for it.
//
// [Compare] is a pure function over two snapshots. [Detector] pairs it with
// per-station retained state, which only advances when something changed.
package detect

import "github.com/jpalmerr/stationwatch/snapshot"

// Slot states that get their own transition bucket.
const (
	statusFailing = "failing"
	statusPassed  = "passed"
	statusTesting = "testing"
)

// Compare reports what changed from prev to cur. A nil prev always counts
// as changed so new subscribers see every station at least once.
//
// Slots are matched by name. A status change yields a [snapshot.SlotTransition];
// a test duration change alone marks the slots changed without one.
func Compare(prev *snapshot.Snapshot, cur snapshot.Snapshot) snapshot.Delta {
	d := snapshot.Delta{
		SourceID:        cur.SourceID,
		Previous:        prev,
		Current:         cur,
		SlotTransitions: []snapshot.SlotTransition{},
		NewlyFailing:    []string{},
		NewlyPassed:     []string{},
		NewlyTesting:    []string{},
	}

	if prev == nil {
		d.HasChanges = true
		d.CounterDeltas = cur.Counters
		return d
	}

	if prev.Outcome != cur.Outcome {
		d.StatusChanged = true
	}

	d.CounterDeltas = cur.Counters.Sub(prev.Counters)
	if !d.CounterDeltas.IsZero() {
		d.CountersChanged = true
	}

	if len(prev.Slots) != len(cur.Slots) {
		d.SlotsChanged = true
	}

	before := make(map[string]snapshot.Slot, len(prev.Slots))
	for _, s := range prev.Slots {
		before[s.Name] = s
	}

	for _, s := range cur.Slots {
		old, ok := before[s.Name]
		switch {
		case !ok:
			d.SlotsChanged = true
		case old.Status != s.Status:
			d.SlotsChanged = true
			t := snapshot.SlotTransition{
				SlotName: s.Name,
				From:     old.Status,
				To:       s.Status,
				Kind:     classify(s.Status),
			}
			d.SlotTransitions = append(d.SlotTransitions, t)
			switch t.Kind {
			case snapshot.NewlyFailing:
				d.NewlyFailing = append(d.NewlyFailing, s.Name)
			case snapshot.NewlyPassed:
				d.NewlyPassed = append(d.NewlyPassed, s.Name)
			case snapshot.NewlyTesting:
				d.NewlyTesting = append(d.NewlyTesting, s.Name)
			}
		case old.TestDuration != s.TestDuration:
			d.SlotsChanged = true
		}
	}

	d.HasChanges = d.StatusChanged || d.CountersChanged || d.SlotsChanged
	return d
}

// classify is only called for slots whose status differs, so reaching a
// state means entering it.
func classify(to string) snapshot.TransitionKind {
	switch to {
	case statusFailing:
		return snapshot.NewlyFailing
	case statusPassed:
		return snapshot.NewlyPassed
	case statusTesting:
		return snapshot.NewlyTesting
	default:
		return snapshot.Unclassified
	}
}
