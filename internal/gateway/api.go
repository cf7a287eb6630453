// ABOUTME: HTTP API handlers for the agent-facing and operator-facing protocols.
// ABOUTME: JSON request/response types and sentinel-to-status-code error mapping.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/fleet-gateway/internal/dispatch"
	"github.com/2389/fleet-gateway/internal/session"
)

// maxRequestBody caps request bodies; screenshots dominate the budget.
const maxRequestBody = 16 << 20 // 16 MiB

// RegisterRequest is the JSON request body for POST /api/agents/register.
type RegisterRequest struct {
	Hostname string `json:"hostname"`
	OSInfo   string `json:"os_info"`
}

// AgentResponse is the JSON representation of an agent session.
type AgentResponse struct {
	ID           string `json:"id"`
	Hostname     string `json:"hostname"`
	OSInfo       string `json:"os_info"`
	RegisteredAt string `json:"registered_at"`
	LastSeen     string `json:"last_seen"`
	Status       string `json:"status"`
}

// PendingCommandResponse is one command handed to an agent by poll.
type PendingCommandResponse struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PollResponse is the JSON response for POST /api/agents/{id}/poll.
type PollResponse struct {
	Commands []PendingCommandResponse `json:"commands"`
}

// SubmitCommandRequest is the JSON request body for POST /api/agents/{id}/execute.
type SubmitCommandRequest struct {
	Command string `json:"command"`
}

// SubmitCommandResponse is the JSON response for POST /api/agents/{id}/execute.
type SubmitCommandResponse struct {
	CommandID string `json:"command_id"`
}

// ReportResultRequest is the JSON request body for POST /api/commands/{id}/result.
type ReportResultRequest struct {
	Output   string  `json:"output"`
	Error    *string `json:"error,omitempty"`
	ExitCode int     `json:"exit_code"`
}

// UploadScreenshotRequest is the JSON request body for POST /api/agents/{id}/screenshot.
// ImageData is base64 in the wire format, decoded by encoding/json.
type UploadScreenshotRequest struct {
	ImageData []byte    `json:"image_data"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// CommandRecordResponse is one resolved command in history output.
type CommandRecordResponse struct {
	ID           string  `json:"id"`
	Text         string  `json:"text"`
	State        string  `json:"state"`
	Output       string  `json:"output"`
	Error        *string `json:"error,omitempty"`
	ExitCode     int     `json:"exit_code"`
	SubmittedAt  string  `json:"submitted_at"`
	DispatchedAt string  `json:"dispatched_at,omitempty"`
	ResolvedAt   string  `json:"resolved_at"`
}

// QueuedCommandResponse is one still-queued command in operator output.
type QueuedCommandResponse struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	State       string `json:"state"`
	SubmittedAt string `json:"submitted_at"`
}

// ScreenshotResponse is one screenshot with base64 image data.
type ScreenshotResponse struct {
	ID         string `json:"id"`
	CapturedAt string `json:"captured_at"`
	ImageData  []byte `json:"image_data"`
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v with the given status code.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("encoding response", "error", err)
	}
}

// writeError maps coordinator sentinels onto HTTP status codes.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, dispatch.ErrCommandNotFound):
		g.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, dispatch.ErrInvalidState):
		g.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		g.logger.Error("request failed", "error", err)
		g.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxRequestBody)
	defer func() { _, _ = io.Copy(io.Discard, body) }()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

func agentResponse(s *session.Session) AgentResponse {
	return AgentResponse{
		ID:           s.ID,
		Hostname:     s.Hostname,
		OSInfo:       s.OSInfo,
		RegisteredAt: s.RegisteredAt.UTC().Format(time.RFC3339),
		LastSeen:     s.LastSeen.UTC().Format(time.RFC3339),
		Status:       string(s.Status),
	}
}

// limitParam parses the optional ?limit= query parameter; 0 means unlimited.
func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// --- Agent-facing handlers ---

// handleRegister handles POST /api/agents/register.
// Registration always succeeds; the new session is returned with its ID.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		g.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	sess := g.coordinator.Register(req.Hostname, req.OSInfo)
	g.writeJSON(w, http.StatusCreated, agentResponse(sess))
}

// handlePing handles POST /api/agents/{id}/ping.
func (g *Gateway) handlePing(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if err := g.coordinator.Ping(agentID); err != nil {
		g.writeError(w, err)
		return
	}

	sess, err := g.coordinator.GetAgent(agentID)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, agentResponse(sess))
}

// handlePoll handles POST /api/agents/{id}/poll.
// Returns every queued command for the agent, dispatching them in FIFO order.
func (g *Gateway) handlePoll(w http.ResponseWriter, r *http.Request) {
	batch, err := g.coordinator.Poll(r.PathValue("id"))
	if err != nil {
		g.writeError(w, err)
		return
	}

	resp := PollResponse{Commands: make([]PendingCommandResponse, 0, len(batch))}
	for _, cmd := range batch {
		resp.Commands = append(resp.Commands, PendingCommandResponse{ID: cmd.ID, Text: cmd.Text})
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleReportResult handles POST /api/commands/{id}/result.
// Duplicate or late reports are acknowledged without error.
func (g *Gateway) handleReportResult(w http.ResponseWriter, r *http.Request) {
	var req ReportResultRequest
	if err := decodeJSON(r, &req); err != nil {
		g.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	err := g.coordinator.ReportResult(r.PathValue("id"), dispatch.Result{
		Output:   req.Output,
		Error:    req.Error,
		ExitCode: req.ExitCode,
	})
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUploadScreenshot handles POST /api/agents/{id}/screenshot.
func (g *Gateway) handleUploadScreenshot(w http.ResponseWriter, r *http.Request) {
	var req UploadScreenshotRequest
	if err := decodeJSON(r, &req); err != nil {
		g.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if len(req.ImageData) == 0 {
		g.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "image_data is required"})
		return
	}

	err := g.coordinator.UploadScreenshot(r.Context(), r.PathValue("id"), req.ImageData, req.Timestamp)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Operator-facing handlers ---

// handleListAgents handles GET /api/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := g.coordinator.ListAgents()
	resp := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		resp = append(resp, agentResponse(a))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleGetAgent handles GET /api/agents/{id}.
func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	sess, err := g.coordinator.GetAgent(r.PathValue("id"))
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, agentResponse(sess))
}

// handleSubmitCommand handles POST /api/agents/{id}/execute.
// Submission is optimistic: the operator gets a command ID immediately even
// if the agent is currently unreachable, and observes the outcome (or a
// timeout) later in history.
func (g *Gateway) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req SubmitCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		g.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Command == "" {
		g.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "command is required"})
		return
	}

	cmdID, err := g.coordinator.SubmitCommand(r.PathValue("id"), req.Command)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusAccepted, SubmitCommandResponse{CommandID: cmdID})
}

// handleCommandHistory handles GET /api/agents/{id}/commands.
func (g *Gateway) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	records, err := g.coordinator.CommandHistory(r.Context(), r.PathValue("id"), limitParam(r))
	if err != nil {
		g.writeError(w, err)
		return
	}

	resp := make([]CommandRecordResponse, 0, len(records))
	for _, rec := range records {
		out := CommandRecordResponse{
			ID:          rec.ID,
			Text:        rec.Text,
			State:       rec.State,
			Output:      rec.Output,
			Error:       rec.Error,
			ExitCode:    rec.ExitCode,
			SubmittedAt: rec.SubmittedAt.UTC().Format(time.RFC3339),
			ResolvedAt:  rec.ResolvedAt.UTC().Format(time.RFC3339),
		}
		if rec.DispatchedAt != nil {
			out.DispatchedAt = rec.DispatchedAt.UTC().Format(time.RFC3339)
		}
		resp = append(resp, out)
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handlePendingCommands handles GET /api/agents/{id}/queue.
func (g *Gateway) handlePendingCommands(w http.ResponseWriter, r *http.Request) {
	pending, err := g.coordinator.PendingCommands(r.PathValue("id"))
	if err != nil {
		g.writeError(w, err)
		return
	}

	resp := make([]QueuedCommandResponse, 0, len(pending))
	for _, cmd := range pending {
		resp = append(resp, QueuedCommandResponse{
			ID:          cmd.ID,
			Text:        cmd.Text,
			State:       string(cmd.State),
			SubmittedAt: cmd.SubmittedAt.UTC().Format(time.RFC3339),
		})
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleListScreenshots handles GET /api/agents/{id}/screenshots.
func (g *Gateway) handleListScreenshots(w http.ResponseWriter, r *http.Request) {
	shots, err := g.coordinator.Screenshots(r.Context(), r.PathValue("id"), limitParam(r))
	if err != nil {
		g.writeError(w, err)
		return
	}

	resp := make([]ScreenshotResponse, 0, len(shots))
	for _, shot := range shots {
		resp = append(resp, ScreenshotResponse{
			ID:         shot.ID,
			CapturedAt: shot.CapturedAt.UTC().Format(time.RFC3339),
			ImageData:  shot.ImageData,
		})
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleCancelCommand handles DELETE /api/commands/{id}.
func (g *Gateway) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	if err := g.coordinator.CancelCommand(r.PathValue("id")); err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
