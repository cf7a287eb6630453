// ABOUTME: Package documentation for the gateway orchestrator.
// ABOUTME: Describes the HTTP surface and component lifecycle.

// Package gateway wires the coordinator to its HTTP server and owns the
// lifecycle of every long-lived component: the SQLite history store, the
// coordinator (session registry plus command dispatcher), and the HTTP
// listener.
//
// Two protocols share one mux. The agent-facing protocol covers
// registration, heartbeats, command polling, result reports, and
// screenshot uploads. The operator-facing protocol covers fleet listing,
// command submission, cancellation, queue inspection, and history reads.
// A /health liveness probe, a /health/ready readiness probe, and an
// optional Prometheus metrics endpoint round out the surface.
//
// Run blocks until the supplied context is canceled, then drains the
// HTTP server and closes the coordinator and store in order.
package gateway
