// ABOUTME: Tests for the HTTP API handlers using httptest against a live mux.
// ABOUTME: Covers both protocols, error mapping, and the full command roundtrip.

package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fleet-gateway/internal/config"
)

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	t.Setenv("FLEET_DB_PATH", "")

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = ":memory:"
	cfg.Agents.PollInterval = 30 * time.Second
	cfg.Agents.LivenessTimeout = 90 * time.Second
	cfg.Agents.CommandTimeout = 5 * time.Minute
	cfg.Agents.SweepInterval = 0

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g, err := New(cfg, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(g.httpServer.Handler)
	t.Cleanup(func() {
		ts.Close()
		g.coordinator.Close()
		_ = g.store.Close()
	})
	return g, ts
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func registerAgent(t *testing.T, ts *httptest.Server, hostname string) string {
	t.Helper()
	var agent AgentResponse
	status := doJSON(t, http.MethodPost, ts.URL+"/api/agents/register",
		RegisterRequest{Hostname: hostname, OSInfo: "linux"}, &agent)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, agent.ID)
	return agent.ID
}

func TestRegisterReturnsOnlineAgent(t *testing.T) {
	_, ts := newTestGateway(t)

	var agent AgentResponse
	status := doJSON(t, http.MethodPost, ts.URL+"/api/agents/register",
		RegisterRequest{Hostname: "worker-1", OSInfo: "linux 6.1"}, &agent)

	assert.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, "worker-1", agent.Hostname)
	assert.Equal(t, "linux 6.1", agent.OSInfo)
	assert.Equal(t, "online", agent.Status)
	assert.NotEmpty(t, agent.RegisteredAt)
}

func TestPingUnknownAgentReturns404(t *testing.T) {
	_, ts := newTestGateway(t)

	var errResp errorResponse
	status := doJSON(t, http.MethodPost, ts.URL+"/api/agents/no-such/ping", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, errResp.Error)
}

func TestCommandRoundtrip(t *testing.T) {
	_, ts := newTestGateway(t)
	agentID := registerAgent(t, ts, "worker-1")

	// Operator submits a command, gets an ID immediately.
	var submitted SubmitCommandResponse
	status := doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/execute",
		SubmitCommandRequest{Command: "uname -a"}, &submitted)
	require.Equal(t, http.StatusAccepted, status)
	require.NotEmpty(t, submitted.CommandID)

	// The queue shows it queued.
	var queue []QueuedCommandResponse
	status = doJSON(t, http.MethodGet, ts.URL+"/api/agents/"+agentID+"/queue", nil, &queue)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, queue, 1)
	assert.Equal(t, submitted.CommandID, queue[0].ID)
	assert.Equal(t, "queued", queue[0].State)

	// The agent polls and receives it.
	var poll PollResponse
	status = doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/poll", nil, &poll)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, poll.Commands, 1)
	assert.Equal(t, "uname -a", poll.Commands[0].Text)

	// A second poll is empty.
	status = doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/poll", nil, &poll)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, poll.Commands)

	// The agent reports the result.
	status = doJSON(t, http.MethodPost, ts.URL+"/api/commands/"+submitted.CommandID+"/result",
		ReportResultRequest{Output: "Linux worker-1", ExitCode: 0}, nil)
	require.Equal(t, http.StatusOK, status)

	// History records the completion.
	var hist []CommandRecordResponse
	status = doJSON(t, http.MethodGet, ts.URL+"/api/agents/"+agentID+"/commands", nil, &hist)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, hist, 1)
	assert.Equal(t, submitted.CommandID, hist[0].ID)
	assert.Equal(t, "completed", hist[0].State)
	assert.Equal(t, "Linux worker-1", hist[0].Output)
	assert.Equal(t, 0, hist[0].ExitCode)
	assert.NotEmpty(t, hist[0].DispatchedAt)
	assert.NotEmpty(t, hist[0].ResolvedAt)
}

func TestSubmitCommandUnknownAgentReturns404(t *testing.T) {
	_, ts := newTestGateway(t)

	status := doJSON(t, http.MethodPost, ts.URL+"/api/agents/no-such/execute",
		SubmitCommandRequest{Command: "ls"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSubmitEmptyCommandReturns400(t *testing.T) {
	_, ts := newTestGateway(t)
	agentID := registerAgent(t, ts, "worker-1")

	status := doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/execute",
		SubmitCommandRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReportUnknownCommandReturns404(t *testing.T) {
	_, ts := newTestGateway(t)

	status := doJSON(t, http.MethodPost, ts.URL+"/api/commands/no-such/result",
		ReportResultRequest{Output: "x"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDuplicateResultReportAcknowledged(t *testing.T) {
	_, ts := newTestGateway(t)
	agentID := registerAgent(t, ts, "worker-1")

	var submitted SubmitCommandResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/execute",
		SubmitCommandRequest{Command: "ls"}, &submitted)
	var poll PollResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/poll", nil, &poll)

	url := ts.URL + "/api/commands/" + submitted.CommandID + "/result"
	status := doJSON(t, http.MethodPost, url, ReportResultRequest{Output: "first", ExitCode: 0}, nil)
	require.Equal(t, http.StatusOK, status)

	// A retry of the same report is absorbed, not an error.
	status = doJSON(t, http.MethodPost, url, ReportResultRequest{Output: "second", ExitCode: 1}, nil)
	assert.Equal(t, http.StatusOK, status)

	// The first result wins in history.
	var hist []CommandRecordResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/agents/"+agentID+"/commands", nil, &hist)
	require.Len(t, hist, 1)
	assert.Equal(t, "first", hist[0].Output)
	assert.Equal(t, "completed", hist[0].State)
}

func TestFailedCommandState(t *testing.T) {
	_, ts := newTestGateway(t)
	agentID := registerAgent(t, ts, "worker-1")

	var submitted SubmitCommandResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/execute",
		SubmitCommandRequest{Command: "false"}, &submitted)
	var poll PollResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/poll", nil, &poll)

	errMsg := "exit status 1"
	status := doJSON(t, http.MethodPost, ts.URL+"/api/commands/"+submitted.CommandID+"/result",
		ReportResultRequest{Error: &errMsg, ExitCode: 1}, nil)
	require.Equal(t, http.StatusOK, status)

	var hist []CommandRecordResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/agents/"+agentID+"/commands", nil, &hist)
	require.Len(t, hist, 1)
	assert.Equal(t, "failed", hist[0].State)
	require.NotNil(t, hist[0].Error)
	assert.Equal(t, errMsg, *hist[0].Error)
}

func TestCancelCommand(t *testing.T) {
	_, ts := newTestGateway(t)
	agentID := registerAgent(t, ts, "worker-1")

	var submitted SubmitCommandResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/execute",
		SubmitCommandRequest{Command: "ls"}, &submitted)

	// Queued commands can be cancelled.
	status := doJSON(t, http.MethodDelete, ts.URL+"/api/commands/"+submitted.CommandID, nil, nil)
	assert.Equal(t, http.StatusOK, status)

	// The queue is empty afterward.
	var queue []QueuedCommandResponse
	doJSON(t, http.MethodGet, ts.URL+"/api/agents/"+agentID+"/queue", nil, &queue)
	assert.Empty(t, queue)

	// Cancelling again is a 404: the command is gone.
	status = doJSON(t, http.MethodDelete, ts.URL+"/api/commands/"+submitted.CommandID, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCancelDispatchedCommandReturns409(t *testing.T) {
	_, ts := newTestGateway(t)
	agentID := registerAgent(t, ts, "worker-1")

	var submitted SubmitCommandResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/execute",
		SubmitCommandRequest{Command: "ls"}, &submitted)
	var poll PollResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/poll", nil, &poll)

	status := doJSON(t, http.MethodDelete, ts.URL+"/api/commands/"+submitted.CommandID, nil, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestScreenshotRoundtrip(t *testing.T) {
	_, ts := newTestGateway(t)
	agentID := registerAgent(t, ts, "worker-1")

	img := []byte{0x89, 0x50, 0x4e, 0x47}
	captured := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/screenshot",
		UploadScreenshotRequest{ImageData: img, Timestamp: captured}, nil)
	require.Equal(t, http.StatusOK, status)

	var shots []ScreenshotResponse
	status = doJSON(t, http.MethodGet, ts.URL+"/api/agents/"+agentID+"/screenshots", nil, &shots)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, shots, 1)
	assert.Equal(t, img, shots[0].ImageData)
	assert.Equal(t, captured.Format(time.RFC3339), shots[0].CapturedAt)
}

func TestScreenshotRequiresImageData(t *testing.T) {
	_, ts := newTestGateway(t)
	agentID := registerAgent(t, ts, "worker-1")

	status := doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/screenshot",
		UploadScreenshotRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestScreenshotUnknownAgentReturns404(t *testing.T) {
	_, ts := newTestGateway(t)

	status := doJSON(t, http.MethodPost, ts.URL+"/api/agents/no-such/screenshot",
		UploadScreenshotRequest{ImageData: []byte{1}}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListAgents(t *testing.T) {
	_, ts := newTestGateway(t)
	registerAgent(t, ts, "bravo")
	registerAgent(t, ts, "alpha")

	var agents []AgentResponse
	status := doJSON(t, http.MethodGet, ts.URL+"/api/agents", nil, &agents)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, agents, 2)
	assert.Equal(t, "alpha", agents[0].Hostname)
	assert.Equal(t, "bravo", agents[1].Hostname)
}

func TestGetAgentNotFound(t *testing.T) {
	_, ts := newTestGateway(t)

	status := doJSON(t, http.MethodGet, ts.URL+"/api/agents/no-such", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHistoryLimitParam(t *testing.T) {
	_, ts := newTestGateway(t)
	agentID := registerAgent(t, ts, "worker-1")

	for i := 0; i < 3; i++ {
		var submitted SubmitCommandResponse
		doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/execute",
			SubmitCommandRequest{Command: "ls"}, &submitted)
		var poll PollResponse
		doJSON(t, http.MethodPost, ts.URL+"/api/agents/"+agentID+"/poll", nil, &poll)
		doJSON(t, http.MethodPost, ts.URL+"/api/commands/"+submitted.CommandID+"/result",
			ReportResultRequest{ExitCode: 0}, nil)
	}

	var hist []CommandRecordResponse
	status := doJSON(t, http.MethodGet, ts.URL+"/api/agents/"+agentID+"/commands?limit=2", nil, &hist)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, hist, 2)
}

func TestMalformedJSONReturns400(t *testing.T) {
	_, ts := newTestGateway(t)

	resp, err := http.Post(ts.URL+"/api/agents/register", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestGateway(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Not ready before any agent registers.
	resp, err = http.Get(ts.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	registerAgent(t, ts, "worker-1")

	resp, err = http.Get(ts.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
