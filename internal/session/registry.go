// ABOUTME: Session registry tracking agent identity and liveness.
// ABOUTME: Sharded by agent ID so contention on one agent never stalls the fleet.

package session

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the specified agent session was not found.
var ErrNotFound = errors.New("session not found")

// Status is the derived liveness state of an agent.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Session holds the identity and liveness of one registered agent.
// Status is derived from LastSeen at read time and never stored.
type Session struct {
	ID           string
	Hostname     string
	OSInfo       string
	RegisteredAt time.Time
	LastSeen     time.Time
	Status       Status
}

// shardCount is fixed; resharding would invalidate existing ID placement.
const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Registry issues agent identities and tracks liveness.
// Sessions are retained for audit once created; going offline is a derived
// display property, not a deletion trigger.
type Registry struct {
	shards          [shardCount]*shard
	livenessTimeout time.Duration
	logger          *slog.Logger

	// now is replaceable in tests
	now func() time.Time
}

// NewRegistry creates a registry that reports an agent offline after
// livenessTimeout of silence.
func NewRegistry(livenessTimeout time.Duration, logger *slog.Logger) *Registry {
	r := &Registry{
		livenessTimeout: livenessTimeout,
		logger:          logger,
		now:             time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return r
}

// shardFor maps an agent ID onto its shard via FNV-1a.
func (r *Registry) shardFor(agentID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(agentID))
	return r.shards[h.Sum32()%shardCount]
}

// Register creates a new session with a freshly generated ID and returns a
// snapshot of it. Hostname and OS info are descriptive and never mutated.
func (r *Registry) Register(hostname, osInfo string) *Session {
	now := r.now()
	sess := &Session{
		ID:           uuid.New().String(),
		Hostname:     hostname,
		OSInfo:       osInfo,
		RegisteredAt: now,
		LastSeen:     now,
	}

	sh := r.shardFor(sess.ID)
	sh.mu.Lock()
	sh.sessions[sess.ID] = sess
	sh.mu.Unlock()

	r.logger.Info("agent registered",
		"agent_id", sess.ID,
		"hostname", hostname,
		"os", osInfo,
	)
	return r.snapshot(sess, now)
}

// Touch updates LastSeen for an existing session.
// Returns ErrNotFound if the agent is unknown.
func (r *Registry) Touch(agentID string) error {
	sh := r.shardFor(agentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[agentID]
	if !ok {
		return ErrNotFound
	}
	sess.LastSeen = r.now()
	return nil
}

// Get returns a snapshot of the session with its derived status.
func (r *Registry) Get(agentID string) (*Session, error) {
	sh := r.shardFor(agentID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sess, ok := sh.sessions[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.snapshot(sess, r.now()), nil
}

// Exists reports whether an agent with the given ID is registered.
func (r *Registry) Exists(agentID string) bool {
	sh := r.shardFor(agentID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	_, ok := sh.sessions[agentID]
	return ok
}

// List returns snapshots of all sessions with derived status, ordered by
// hostname then ID for deterministic output.
func (r *Registry) List() []*Session {
	now := r.now()
	out := make([]*Session, 0, 16)

	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			out = append(out, r.snapshot(sess, now))
		}
		sh.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Hostname != out[j].Hostname {
			return out[i].Hostname < out[j].Hostname
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CountOnline returns the number of agents currently within the liveness window.
func (r *Registry) CountOnline() int {
	now := r.now()
	count := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			if r.statusAt(sess.LastSeen, now) == StatusOnline {
				count++
			}
		}
		sh.mu.RUnlock()
	}
	return count
}

// snapshot copies a session and stamps its derived status.
// Callers never see references into registry state.
func (r *Registry) snapshot(sess *Session, now time.Time) *Session {
	cp := *sess
	cp.Status = r.statusAt(sess.LastSeen, now)
	return &cp
}

func (r *Registry) statusAt(lastSeen, now time.Time) Status {
	if now.Sub(lastSeen) < r.livenessTimeout {
		return StatusOnline
	}
	return StatusOffline
}
