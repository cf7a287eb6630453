// Package session tracks agent identity and liveness for the fleet.
//
// The registry issues opaque UUIDs at registration and stamps LastSeen on
// every successful contact. An agent's online/offline status is never stored:
// it is derived from LastSeen against the configured liveness timeout each
// time a session is read, so no background process is needed to flip agents
// offline. Records are retained indefinitely for audit.
package session
