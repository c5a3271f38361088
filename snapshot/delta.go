package snapshot

import "time"

// TransitionKind classifies a slot status transition for observability.
type TransitionKind string

const (
	NewlyFailing TransitionKind = "newly-failing"
	NewlyPassed  TransitionKind = "newly-passed"
	NewlyTesting TransitionKind = "newly-testing"

	// Unclassified covers transitions into any other status.
	Unclassified TransitionKind = ""
)

// SlotTransition records one slot whose status changed between snapshots.
type SlotTransition struct {
	SlotName string         `json:"slot"`
	From     string         `json:"from"`
	To       string         `json:"to"`
	Kind     TransitionKind `json:"kind,omitempty"`
}

// Delta describes what changed between two consecutive snapshots of a source.
//
// Previous is nil on the first observation of a source. Previous and Current
// are not serialized; events carry the current snapshot separately.
type Delta struct {
	SourceID string    `json:"sourceId"`
	Previous *Snapshot `json:"-"`
	Current  Snapshot  `json:"-"`

	HasChanges      bool `json:"hasChanges"`
	StatusChanged   bool `json:"statusChanged"`
	CountersChanged bool `json:"countersChanged"`
	SlotsChanged    bool `json:"slotsChanged"`

	CounterDeltas   Counters         `json:"counterDeltas"`
	SlotTransitions []SlotTransition `json:"slotTransitions"`

	NewlyFailing []string `json:"newFailingSlots"`
	NewlyPassed  []string `json:"newPassedSlots"`
	NewlyTesting []string `json:"newTestingSlots"`
}

// FirstObservation reports whether the delta bootstraps a source.
func (d Delta) FirstObservation() bool {
	return d.Previous == nil
}

// EventType names the kind of an [Event].
type EventType string

const (
	// EventConnected greets a new stream subscriber.
	EventConnected EventType = "connected"

	// EventSourceUpdate carries one source's snapshot and, when known, its delta.
	EventSourceUpdate EventType = "source-update"

	// EventBatchUpdate carries every snapshot produced by one poll cycle.
	EventBatchUpdate EventType = "batch-update"
)

// Event is the unit fanned out to live subscribers.
type Event struct {
	Type      EventType  `json:"type"`
	Snapshot  *Snapshot  `json:"data,omitempty"`
	Changes   *Delta     `json:"changes,omitempty"`
	Batch     []Snapshot `json:"batch,omitempty"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// SourceUpdate builds a source-update event for delta.Current.
func SourceUpdate(delta Delta) Event {
	current := delta.Current
	return Event{
		Type:     EventSourceUpdate,
		Snapshot: &current,
		Changes:  &delta,
	}
}

// BatchUpdate builds a batch-update event.
func BatchUpdate(snapshots []Snapshot) Event {
	return Event{
		Type:  EventBatchUpdate,
		Batch: snapshots,
	}
}
