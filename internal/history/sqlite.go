// ABOUTME: SQLite implementation of the history Store using modernc.org/sqlite
// ABOUTME: Append-only command result and screenshot persistence with automatic schema creation

package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "history")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite history store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS command_history (
			id            TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			text          TEXT NOT NULL,
			state         TEXT NOT NULL,
			output        TEXT NOT NULL DEFAULT '',
			error         TEXT,
			exit_code     INTEGER NOT NULL,
			submitted_at  TEXT NOT NULL,
			dispatched_at TEXT,
			resolved_at   TEXT NOT NULL,

			CHECK (state IN ('completed', 'failed', 'timed_out'))
		);

		CREATE INDEX IF NOT EXISTS idx_command_history_agent
			ON command_history(agent_id, resolved_at);

		CREATE TABLE IF NOT EXISTS screenshots (
			id          TEXT PRIMARY KEY,
			agent_id    TEXT NOT NULL,
			captured_at TEXT NOT NULL,
			image_data  BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_screenshots_agent
			ON screenshots(agent_id, captured_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite history store")
	return s.db.Close()
}

// AppendCommand stores the terminal record of a command.
func (s *SQLiteStore) AppendCommand(ctx context.Context, rec *CommandRecord) error {
	query := `
		INSERT INTO command_history (id, agent_id, text, state, output, error, exit_code, submitted_at, dispatched_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var dispatchedAt *string
	if rec.DispatchedAt != nil {
		v := rec.DispatchedAt.UTC().Format(time.RFC3339Nano)
		dispatchedAt = &v
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.AgentID,
		rec.Text,
		rec.State,
		rec.Output,
		rec.Error,
		rec.ExitCode,
		rec.SubmittedAt.UTC().Format(time.RFC3339Nano),
		dispatchedAt,
		rec.ResolvedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting command record: %w", err)
	}

	s.logger.Debug("appended command record", "id", rec.ID, "agent_id", rec.AgentID, "state", rec.State)
	return nil
}

// ListCommands returns the agent's resolved commands in chronological order,
// oldest first. A limit <= 0 means no limit. An agent with no history yields
// an empty slice, not an error.
func (s *SQLiteStore) ListCommands(ctx context.Context, agentID string, limit int) ([]*CommandRecord, error) {
	query := `
		SELECT id, agent_id, text, state, output, error, exit_code, submitted_at, dispatched_at, resolved_at
		FROM command_history
		WHERE agent_id = ?
		ORDER BY resolved_at ASC
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means unlimited
	}

	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying command history: %w", err)
	}
	defer rows.Close()

	records := make([]*CommandRecord, 0)
	for rows.Next() {
		var rec CommandRecord
		var submittedAtStr, resolvedAtStr string
		var dispatchedAtStr *string

		if err := rows.Scan(
			&rec.ID,
			&rec.AgentID,
			&rec.Text,
			&rec.State,
			&rec.Output,
			&rec.Error,
			&rec.ExitCode,
			&submittedAtStr,
			&dispatchedAtStr,
			&resolvedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning command record: %w", err)
		}

		if rec.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAtStr); err != nil {
			return nil, fmt.Errorf("parsing submitted_at: %w", err)
		}
		if dispatchedAtStr != nil {
			at, err := time.Parse(time.RFC3339Nano, *dispatchedAtStr)
			if err != nil {
				return nil, fmt.Errorf("parsing dispatched_at: %w", err)
			}
			rec.DispatchedAt = &at
		}
		if rec.ResolvedAt, err = time.Parse(time.RFC3339Nano, resolvedAtStr); err != nil {
			return nil, fmt.Errorf("parsing resolved_at: %w", err)
		}

		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command history: %w", err)
	}

	return records, nil
}

// AppendScreenshot stores a captured image artifact.
func (s *SQLiteStore) AppendScreenshot(ctx context.Context, shot *Screenshot) error {
	query := `
		INSERT INTO screenshots (id, agent_id, captured_at, image_data)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		shot.ID,
		shot.AgentID,
		shot.CapturedAt.UTC().Format(time.RFC3339Nano),
		shot.ImageData,
	)
	if err != nil {
		return fmt.Errorf("inserting screenshot: %w", err)
	}

	s.logger.Debug("appended screenshot", "id", shot.ID, "agent_id", shot.AgentID, "bytes", len(shot.ImageData))
	return nil
}

// ListScreenshots returns the agent's screenshots in chronological order,
// oldest first. A limit <= 0 means no limit.
func (s *SQLiteStore) ListScreenshots(ctx context.Context, agentID string, limit int) ([]*Screenshot, error) {
	query := `
		SELECT id, agent_id, captured_at, image_data
		FROM screenshots
		WHERE agent_id = ?
		ORDER BY captured_at ASC
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying screenshots: %w", err)
	}
	defer rows.Close()

	shots := make([]*Screenshot, 0)
	for rows.Next() {
		var shot Screenshot
		var capturedAtStr string

		if err := rows.Scan(&shot.ID, &shot.AgentID, &capturedAtStr, &shot.ImageData); err != nil {
			return nil, fmt.Errorf("scanning screenshot: %w", err)
		}
		if shot.CapturedAt, err = time.Parse(time.RFC3339Nano, capturedAtStr); err != nil {
			return nil, fmt.Errorf("parsing captured_at: %w", err)
		}

		shots = append(shots, &shot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating screenshots: %w", err)
	}

	return shots, nil
}
