// ABOUTME: Coordinator facade composing session registry, dispatcher, and history.
// ABOUTME: Exposes the agent-facing and operator-facing operations of the gateway.

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fleet-gateway/internal/dispatch"
	"github.com/2389/fleet-gateway/internal/history"
	"github.com/2389/fleet-gateway/internal/observability"
	"github.com/2389/fleet-gateway/internal/session"
)

// historyWriteTimeout bounds the sink's append so a wedged database cannot
// stall command resolution indefinitely.
const historyWriteTimeout = 5 * time.Second

// Config holds coordinator wiring and timing.
type Config struct {
	LivenessTimeout time.Duration
	CommandTimeout  time.Duration
	SweepInterval   time.Duration

	History history.Store
	Logger  *slog.Logger
}

// Coordinator owns all fleet state. Agents and operators only ever receive
// snapshots; concurrent mutation is mediated entirely by the components'
// internal locking.
type Coordinator struct {
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	history    history.Store
	logger     *slog.Logger
}

// New creates a Coordinator with its registry and dispatcher. The dispatcher
// records terminal commands into the history store via an internal sink.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		registry: session.NewRegistry(cfg.LivenessTimeout, cfg.Logger.With("component", "session-registry")),
		history:  cfg.History,
		logger:   cfg.Logger.With("component", "coordinator"),
	}
	c.dispatcher = dispatch.New(dispatch.Config{
		CommandTimeout: cfg.CommandTimeout,
		SweepInterval:  cfg.SweepInterval,
		Logger:         cfg.Logger.With("component", "dispatcher"),
		Sink:           &historySink{store: cfg.History, logger: c.logger},
	})
	return c
}

// Close stops background work. The history store is owned by the caller.
func (c *Coordinator) Close() {
	c.dispatcher.Close()
}

// historySink adapts the history store to the dispatcher's resolution sink.
type historySink struct {
	store  history.Store
	logger *slog.Logger
}

func (s *historySink) RecordResolution(cmd *dispatch.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	var output string
	var errText *string
	exitCode := 0
	if cmd.Result != nil {
		output = cmd.Result.Output
		errText = cmd.Result.Error
		exitCode = cmd.Result.ExitCode
	}

	rec := &history.CommandRecord{
		ID:           cmd.ID,
		AgentID:      cmd.AgentID,
		Text:         cmd.Text,
		State:        string(cmd.State),
		Output:       output,
		Error:        errText,
		ExitCode:     exitCode,
		SubmittedAt:  cmd.SubmittedAt,
		DispatchedAt: cmd.DispatchedAt,
		ResolvedAt:   derefOr(cmd.ResolvedAt, cmd.SubmittedAt),
	}
	if err := s.store.AppendCommand(ctx, rec); err != nil {
		// History is audit data; a failed append must not fail resolution.
		s.logger.Error("recording command history failed", "command_id", cmd.ID, "error", err)
	}
}

func derefOr(t *time.Time, fallback time.Time) time.Time {
	if t != nil {
		return *t
	}
	return fallback
}

// --- Agent-facing operations ---

// Register creates a session for a newly contacted agent and returns it.
func (c *Coordinator) Register(hostname, osInfo string) *session.Session {
	sess := c.registry.Register(hostname, osInfo)
	observability.AgentsRegistered.Inc()
	observability.AgentsOnline.Set(float64(c.registry.CountOnline()))
	return sess
}

// Ping records liveness contact from an agent.
func (c *Coordinator) Ping(agentID string) error {
	return c.registry.Touch(agentID)
}

// Poll returns the agent's queued commands, dispatching them, and counts as
// liveness contact. Returns session.ErrNotFound for an unknown agent.
func (c *Coordinator) Poll(agentID string) ([]*dispatch.Command, error) {
	if err := c.registry.Touch(agentID); err != nil {
		return nil, err
	}
	return c.dispatcher.Poll(agentID), nil
}

// ReportResult matches an agent-reported result to its dispatched command.
// A successful report counts as liveness contact for the owning agent.
// Duplicate or late reports are absorbed without error.
func (c *Coordinator) ReportResult(commandID string, result dispatch.Result) error {
	resolved, err := c.dispatcher.Resolve(commandID, result)
	if err != nil {
		return err
	}
	if resolved != nil {
		// Best effort; the session existed when the command was submitted.
		_ = c.registry.Touch(resolved.AgentID)
	}
	return nil
}

// UploadScreenshot appends a captured image to the agent's artifact history
// and counts as liveness contact. A zero capturedAt is stamped server-side.
func (c *Coordinator) UploadScreenshot(ctx context.Context, agentID string, imageData []byte, capturedAt time.Time) error {
	if !c.registry.Exists(agentID) {
		return session.ErrNotFound
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	shot := &history.Screenshot{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		CapturedAt: capturedAt,
		ImageData:  imageData,
	}
	if err := c.history.AppendScreenshot(ctx, shot); err != nil {
		return fmt.Errorf("appending screenshot: %w", err)
	}

	_ = c.registry.Touch(agentID)
	observability.ScreenshotsStored.Inc()
	return nil
}

// --- Operator-facing operations ---

// ListAgents returns all sessions with derived status, ordered by hostname
// then ID.
func (c *Coordinator) ListAgents() []*session.Session {
	observability.AgentsOnline.Set(float64(c.registry.CountOnline()))
	return c.registry.List()
}

// GetAgent returns one session with derived status.
func (c *Coordinator) GetAgent(agentID string) (*session.Session, error) {
	return c.registry.Get(agentID)
}

// SubmitCommand queues a command for the agent and returns its ID
// immediately. Reachability is not checked beyond existence: the agent may
// be offline now and poll later, and the operator observes the outcome (or a
// timeout) in history.
func (c *Coordinator) SubmitCommand(agentID, text string) (string, error) {
	if !c.registry.Exists(agentID) {
		return "", session.ErrNotFound
	}
	return c.dispatcher.Submit(agentID, text), nil
}

// CancelCommand removes a not-yet-dispatched command.
func (c *Coordinator) CancelCommand(commandID string) error {
	return c.dispatcher.Cancel(commandID)
}

// PendingCommands returns the agent's still-queued commands.
func (c *Coordinator) PendingCommands(agentID string) ([]*dispatch.Command, error) {
	if !c.registry.Exists(agentID) {
		return nil, session.ErrNotFound
	}
	return c.dispatcher.Pending(agentID), nil
}

// CommandHistory returns the agent's resolved commands, oldest first.
func (c *Coordinator) CommandHistory(ctx context.Context, agentID string, limit int) ([]*history.CommandRecord, error) {
	if !c.registry.Exists(agentID) {
		return nil, session.ErrNotFound
	}
	return c.history.ListCommands(ctx, agentID, limit)
}

// Screenshots returns the agent's captured screenshots, oldest first.
func (c *Coordinator) Screenshots(ctx context.Context, agentID string, limit int) ([]*history.Screenshot, error) {
	if !c.registry.Exists(agentID) {
		return nil, session.ErrNotFound
	}
	return c.history.ListScreenshots(ctx, agentID, limit)
}

// SweepOnce runs one timeout sweep pass. Exposed for tests and for lazy
// sweeping by read paths if the background interval is disabled.
func (c *Coordinator) SweepOnce() int {
	return c.dispatcher.SweepOnce()
}
