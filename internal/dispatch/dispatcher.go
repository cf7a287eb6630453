// ABOUTME: Command dispatcher owning per-agent queues and the command lifecycle.
// ABOUTME: Matches agent-reported results back to dispatched commands and sweeps timeouts.

package dispatch

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fleet-gateway/internal/observability"
)

// ErrCommandNotFound indicates the referenced command does not exist.
var ErrCommandNotFound = errors.New("command not found")

// ErrInvalidState indicates the operation is illegal for the command's
// current lifecycle state.
var ErrInvalidState = errors.New("command in invalid state for operation")

// State is the lifecycle state of a command.
type State string

const (
	StateQueued     State = "queued"
	StateDispatched State = "dispatched"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
)

// Result is an agent-reported execution outcome.
type Result struct {
	Output   string
	Error    *string
	ExitCode int
}

// Command is one unit of work destined for one agent.
type Command struct {
	ID           string
	AgentID      string
	Text         string
	State        State
	SubmittedAt  time.Time
	DispatchedAt *time.Time
	ResolvedAt   *time.Time
	Result       *Result
}

// Sink receives commands when they reach a terminal state.
// Invoked outside all dispatcher locks; implementations may perform I/O.
type Sink interface {
	RecordResolution(cmd *Command)
}

// timedOutExitCode is the synthetic exit code recorded for swept commands.
const timedOutExitCode = -1

const shardCount = 32

// agentQueue holds the live commands for one agent.
// pending is FIFO in submission order; dispatched is keyed by command ID.
type agentQueue struct {
	pending    []*Command
	dispatched map[string]*Command
}

type queueShard struct {
	mu     sync.Mutex
	agents map[string]*agentQueue
}

// indexShard maps command IDs to their owning agent. Entries are written at
// submission, deleted on cancel, and retained after resolution so duplicate
// or late reports can be told apart from unknown command IDs.
type indexShard struct {
	mu    sync.RWMutex
	owner map[string]string
}

// Config holds dispatcher timing and wiring.
type Config struct {
	// CommandTimeout is how long a command may stay dispatched before the
	// sweep forces it to timed-out.
	CommandTimeout time.Duration

	// SweepInterval is the cadence of the background timeout sweep.
	// Zero disables the background goroutine; SweepOnce still works.
	SweepInterval time.Duration

	Logger *slog.Logger
	Sink   Sink
}

// Dispatcher owns per-agent command queues and the lifecycle of each command
// from submission to resolution. Lock granularity is per shard, keyed by
// agent ID, so a contended agent never serializes the rest of the fleet.
type Dispatcher struct {
	queues [shardCount]*queueShard
	index  [shardCount]*indexShard

	commandTimeout time.Duration
	logger         *slog.Logger
	sink           Sink

	done   chan struct{}
	closed sync.Once

	// now is replaceable in tests
	now func() time.Time
}

// New creates a Dispatcher. If cfg.SweepInterval is positive, a background
// goroutine sweeps for timed-out commands until Close is called.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		commandTimeout: cfg.CommandTimeout,
		logger:         cfg.Logger,
		sink:           cfg.Sink,
		done:           make(chan struct{}),
		now:            time.Now,
	}
	for i := range d.queues {
		d.queues[i] = &queueShard{agents: make(map[string]*agentQueue)}
	}
	for i := range d.index {
		d.index[i] = &indexShard{owner: make(map[string]string)}
	}

	if cfg.SweepInterval > 0 {
		go d.sweepLoop(cfg.SweepInterval)
	}
	return d
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (d *Dispatcher) queueShardFor(agentID string) *queueShard {
	return d.queues[shardIndex(agentID)]
}

func (d *Dispatcher) indexShardFor(commandID string) *indexShard {
	return d.index[shardIndex(commandID)]
}

// Submit appends a new queued command for the agent and returns its ID
// immediately; execution happens asynchronously, arbitrarily later, or never.
// The caller is responsible for validating that the agent exists.
func (d *Dispatcher) Submit(agentID, text string) string {
	cmd := &Command{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		Text:        text,
		State:       StateQueued,
		SubmittedAt: d.now(),
	}

	// Index entry goes in first so a concurrent resolve sees the command as
	// queued (invalid state) rather than unknown.
	is := d.indexShardFor(cmd.ID)
	is.mu.Lock()
	is.owner[cmd.ID] = agentID
	is.mu.Unlock()

	qs := d.queueShardFor(agentID)
	qs.mu.Lock()
	q := qs.agents[agentID]
	if q == nil {
		q = &agentQueue{dispatched: make(map[string]*Command)}
		qs.agents[agentID] = q
	}
	q.pending = append(q.pending, cmd)
	qs.mu.Unlock()

	observability.CommandsSubmitted.Inc()
	observability.CommandQueueDepth.Inc()

	d.logger.Debug("command submitted", "command_id", cmd.ID, "agent_id", agentID)
	return cmd.ID
}

// Poll returns all queued commands for the agent in submission order,
// transitioning each to dispatched. A second immediate poll returns nothing.
func (d *Dispatcher) Poll(agentID string) []*Command {
	now := d.now()

	qs := d.queueShardFor(agentID)
	qs.mu.Lock()
	q := qs.agents[agentID]
	if q == nil || len(q.pending) == 0 {
		qs.mu.Unlock()
		return nil
	}

	batch := make([]*Command, 0, len(q.pending))
	for _, cmd := range q.pending {
		cmd.State = StateDispatched
		at := now
		cmd.DispatchedAt = &at
		q.dispatched[cmd.ID] = cmd
		batch = append(batch, snapshot(cmd))
	}
	q.pending = q.pending[:0]
	qs.mu.Unlock()

	observability.CommandsDispatched.Add(float64(len(batch)))
	observability.CommandQueueDepth.Sub(float64(len(batch)))

	d.logger.Debug("commands dispatched", "agent_id", agentID, "count", len(batch))
	return batch
}

// Resolve records an agent-reported result against a dispatched command and
// returns a snapshot of the resolved command.
//
// Unknown command IDs return ErrCommandNotFound. A result for a still-queued
// command returns ErrInvalidState. A duplicate or late report for a command
// that already reached a terminal state is absorbed as a no-op (nil command,
// nil error): network retransmission after a slow ack must not corrupt
// already-stored state.
func (d *Dispatcher) Resolve(commandID string, result Result) (*Command, error) {
	is := d.indexShardFor(commandID)
	is.mu.RLock()
	agentID, ok := is.owner[commandID]
	is.mu.RUnlock()
	if !ok {
		return nil, ErrCommandNotFound
	}

	qs := d.queueShardFor(agentID)
	qs.mu.Lock()
	q := qs.agents[agentID]
	if q == nil {
		qs.mu.Unlock()
		return nil, ErrCommandNotFound
	}

	cmd, live := q.dispatched[commandID]
	if !live {
		for _, p := range q.pending {
			if p.ID == commandID {
				qs.mu.Unlock()
				return nil, ErrInvalidState
			}
		}
		// Indexed but no longer live: already completed, failed, or timed
		// out. Absorb the retransmission.
		qs.mu.Unlock()
		return nil, nil
	}

	delete(q.dispatched, commandID)
	cmd.State = StateCompleted
	if result.ExitCode != 0 {
		cmd.State = StateFailed
	}
	at := d.now()
	cmd.ResolvedAt = &at
	res := result
	cmd.Result = &res
	resolved := snapshot(cmd)
	qs.mu.Unlock()

	if cmd.State == StateCompleted {
		observability.CommandsCompleted.Inc()
	} else {
		observability.CommandsFailed.Inc()
	}
	if cmd.DispatchedAt != nil {
		observability.CommandResolutionSeconds.Observe(at.Sub(*cmd.DispatchedAt).Seconds())
	}

	if d.sink != nil {
		d.sink.RecordResolution(resolved)
	}

	d.logger.Debug("command resolved",
		"command_id", commandID,
		"agent_id", agentID,
		"state", cmd.State,
		"exit_code", result.ExitCode,
	)
	return resolved, nil
}

// Cancel removes a command that has not yet been dispatched.
// Returns ErrInvalidState once the command left the queued state.
func (d *Dispatcher) Cancel(commandID string) error {
	is := d.indexShardFor(commandID)
	is.mu.RLock()
	agentID, ok := is.owner[commandID]
	is.mu.RUnlock()
	if !ok {
		return ErrCommandNotFound
	}

	qs := d.queueShardFor(agentID)
	qs.mu.Lock()
	q := qs.agents[agentID]
	if q == nil {
		qs.mu.Unlock()
		return ErrCommandNotFound
	}

	for i, p := range q.pending {
		if p.ID == commandID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			qs.mu.Unlock()

			is.mu.Lock()
			delete(is.owner, commandID)
			is.mu.Unlock()

			observability.CommandQueueDepth.Dec()
			d.logger.Debug("command cancelled", "command_id", commandID, "agent_id", agentID)
			return nil
		}
	}
	qs.mu.Unlock()
	return ErrInvalidState
}

// Pending returns snapshots of the agent's queued commands without
// dispatching them. Used by operator views.
func (d *Dispatcher) Pending(agentID string) []*Command {
	qs := d.queueShardFor(agentID)
	qs.mu.Lock()
	defer qs.mu.Unlock()

	q := qs.agents[agentID]
	if q == nil {
		return nil
	}
	out := make([]*Command, 0, len(q.pending))
	for _, cmd := range q.pending {
		out = append(out, snapshot(cmd))
	}
	return out
}

// SweepOnce transitions every dispatched command older than the command
// timeout to timed-out, recording a synthetic result. Returns the number of
// commands swept. The background loop calls this periodically; tests call it
// directly for determinism.
func (d *Dispatcher) SweepOnce() int {
	now := d.now()
	cutoff := now.Add(-d.commandTimeout)

	var expired []*Command
	for _, qs := range d.queues {
		qs.mu.Lock()
		for _, q := range qs.agents {
			for id, cmd := range q.dispatched {
				if cmd.DispatchedAt != nil && cmd.DispatchedAt.Before(cutoff) {
					delete(q.dispatched, id)
					cmd.State = StateTimedOut
					at := now
					cmd.ResolvedAt = &at
					msg := "timed out"
					cmd.Result = &Result{Error: &msg, ExitCode: timedOutExitCode}
					expired = append(expired, snapshot(cmd))
				}
			}
		}
		qs.mu.Unlock()
	}

	for _, cmd := range expired {
		observability.CommandsTimedOut.Inc()
		if d.sink != nil {
			d.sink.RecordResolution(cmd)
		}
		d.logger.Warn("command timed out",
			"command_id", cmd.ID,
			"agent_id", cmd.AgentID,
			"dispatched_at", cmd.DispatchedAt,
		)
	}
	return len(expired)
}

// sweepLoop runs in a background goroutine until Close.
func (d *Dispatcher) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.SweepOnce()
		case <-d.done:
			return
		}
	}
}

// Close stops the background sweep goroutine. Safe to call multiple times.
func (d *Dispatcher) Close() {
	d.closed.Do(func() { close(d.done) })
}

// snapshot copies a command so callers never share dispatcher-owned memory.
func snapshot(cmd *Command) *Command {
	cp := *cmd
	if cmd.DispatchedAt != nil {
		at := *cmd.DispatchedAt
		cp.DispatchedAt = &at
	}
	if cmd.ResolvedAt != nil {
		at := *cmd.ResolvedAt
		cp.ResolvedAt = &at
	}
	if cmd.Result != nil {
		res := *cmd.Result
		cp.Result = &res
	}
	return &cp
}
