// Package dispatch owns the command lifecycle for the fleet.
//
// Commands move through a small state machine:
//
//	queued --Poll--> dispatched --Resolve--> completed | failed
//	  |                   |
//	  |                   +--sweep--> timed_out
//	  +--Cancel--> (removed)
//
// Submission and execution are decoupled: Submit returns a command ID
// immediately while the target agent may be offline, slow, or gone forever.
// Agents pick up work by polling, which dispatches every queued command for
// that agent in FIFO submission order. A background sweep forces commands
// stuck in dispatched past the command timeout into timed_out so a crashed
// agent cannot block visibility.
//
// Queues are sharded by agent ID; operations on different agents never
// serialize against each other, and no I/O happens under a shard lock.
package dispatch
