// Package snapshot defines the data model shared by every stationwatch
// component.
//
// A [Source] describes one monitored test station. Each poll of a source
// produces a [Snapshot], an immutable point-in-time view of the station's
// status page: global [Counters], an ordered list of [Slot] values, and
// best-effort page metadata. Comparing two consecutive snapshots of the same
// source yields a [Delta], and both travel to subscribers wrapped in an
// [Event].
//
// Snapshots are never mutated after construction. Components that hand a
// snapshot to code they do not control (user callbacks, for example) pass a
// [Snapshot.Clone] instead.
package snapshot
