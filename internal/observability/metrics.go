// ABOUTME: Prometheus metrics for the fleet coordinator.
// ABOUTME: Counters and gauges covering the command lifecycle and fleet liveness.

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AgentsRegistered counts agent registrations since startup.
	AgentsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_agents_registered_total",
		Help: "Total number of agent registrations",
	})

	// AgentsOnline tracks the number of agents within the liveness window.
	AgentsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_agents_online",
		Help: "Current number of agents considered online",
	})

	// CommandsSubmitted counts commands accepted from operators.
	CommandsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_commands_submitted_total",
		Help: "Total number of commands submitted",
	})

	// CommandsDispatched counts commands handed to agents via poll.
	CommandsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_commands_dispatched_total",
		Help: "Total number of commands dispatched to agents",
	})

	// CommandsCompleted counts commands resolved with exit code zero.
	CommandsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_commands_completed_total",
		Help: "Total number of commands completed successfully",
	})

	// CommandsFailed counts commands resolved with a nonzero exit code.
	CommandsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_commands_failed_total",
		Help: "Total number of commands that failed on the agent",
	})

	// CommandsTimedOut counts commands forced to timed-out by the sweep.
	CommandsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_commands_timedout_total",
		Help: "Total number of dispatched commands that timed out",
	})

	// CommandQueueDepth tracks commands currently queued across all agents.
	CommandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_command_queue_depth",
		Help: "Current number of queued commands across the fleet",
	})

	// CommandResolutionSeconds tracks dispatch-to-resolution latency.
	CommandResolutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleet_command_resolution_seconds",
		Help:    "Time between command dispatch and agent-reported resolution",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
	})

	// ScreenshotsStored counts screenshot artifacts appended to history.
	ScreenshotsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_screenshots_stored_total",
		Help: "Total number of screenshots stored",
	})
)
