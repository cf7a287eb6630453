// ABOUTME: Store interface and record types for fleet-gateway history persistence
// ABOUTME: Defines CommandRecord, Screenshot and the append-only Store interface

package history

import (
	"context"
	"time"
)

// CommandRecord is the durable image of a command that reached a terminal
// state. History is retained independently of the live command lifecycle.
type CommandRecord struct {
	ID           string
	AgentID      string
	Text         string
	State        string // completed, failed, timed_out
	Output       string
	Error        *string
	ExitCode     int
	SubmittedAt  time.Time
	DispatchedAt *time.Time
	ResolvedAt   time.Time
}

// Screenshot is a captured image artifact, immutable once stored.
type Screenshot struct {
	ID         string
	AgentID    string
	CapturedAt time.Time
	ImageData  []byte
}

// Store defines append-only history persistence. There are no update or
// delete operations; the usage pattern is an audit log.
type Store interface {
	// Command history
	AppendCommand(ctx context.Context, rec *CommandRecord) error
	ListCommands(ctx context.Context, agentID string, limit int) ([]*CommandRecord, error)

	// Screenshots
	AppendScreenshot(ctx context.Context, shot *Screenshot) error
	ListScreenshots(ctx context.Context, agentID string, limit int) ([]*Screenshot, error)

	// Close releases any resources held by the store
	Close() error
}
