// Package history persists the append-only audit trail of the fleet:
// resolved command records and captured screenshots, per agent.
//
// History is written when a command reaches a terminal state and is retained
// independently of the live command lifecycle — a command record may be
// pruned from the dispatcher while its history row lives on. There are no
// update or delete operations.
package history
