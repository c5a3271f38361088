// Package poller drives the periodic sweep over the active stations.
//
// A sweep looks every active station up through the snapshot cache, runs
// change detection, publishes a source-update event for each station that
// changed and finally one batch-update event with every snapshot it
// produced.
//
// The main components are:
//
//   - [Scheduler]: start/stop state machine, active set and sweep loop
//   - [Config]: the injected collaborators ([Registry], [Cache], [Detector],
//     [Publisher])
//   - [Status]: point-in-time view for the control API
//
// The HTTP client that fetches station pages lives in internal/scrape.
package poller
