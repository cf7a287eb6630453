// Package coordinator composes the session registry, command dispatcher, and
// history store into the two protocols the gateway exposes: the agent-facing
// loop (register, ping, poll, report, upload) and the operator-facing views
// (list agents, submit commands, read history).
//
// Existence checks happen here at the entry points, so sub-components can
// assume validated agent IDs; the externally observable error for an unknown
// agent is always session.ErrNotFound.
package coordinator
