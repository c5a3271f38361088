// Package server provides the HTTP surface: dashboard, control API,
// Prometheus metrics and the two live event streams.
//
//   - GET /                         embedded dashboard
//   - GET /health, GET /metrics
//   - /api/stations                 configured stations and ad-hoc lookups
//   - /api/scheduler                start, stop, status and the active set
//   - /api/cache, /api/history      inspection and eviction
//   - GET /api/sse, GET /api/ws     Server-Sent Events and websocket streams
//
// Both streams subscribe to the broadcast hub, greet the client with a
// connected event and send a keepalive every 15 seconds. A failed write ends
// the stream and removes the subscriber.
//
// The server shuts down gracefully when the context passed to
// [Server.Start] is cancelled, with a 5-second timeout for in-flight
// requests.
package server
