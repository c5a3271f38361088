// Package scrape extracts station snapshots from HTML status pages.
//
// Station pages are owned by the test equipment vendor and were never meant
// for machine consumption, so extraction favours availability over fidelity.
// Every optional field falls back to a sentinel ("N/A", "Unknown", 0), and
// only the slot container (#uutList) is load-bearing.
//
// The main components are:
//
//   - [Client]: pooled HTTP client with per-request timeouts and a body limit
//   - [Parser]: markup to [snapshot.Snapshot] via goquery selectors
//   - [Scraper]: fetch then parse; transport and structural failures become
//     failure snapshots with a single "Offline" slot
//
// [TransportError] and [StructuralParseError] describe the two failure
// classes. They never escape [Scraper.Scrape]; callers see them only as the
// Error text of a failure snapshot.
package scrape
