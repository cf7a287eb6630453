// ABOUTME: Gateway orchestrator wiring the coordinator to its HTTP server.
// ABOUTME: Manages history store, coordinator, and server lifecycle.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/fleet-gateway/internal/config"
	"github.com/2389/fleet-gateway/internal/coordinator"
	"github.com/2389/fleet-gateway/internal/history"
	"github.com/2389/fleet-gateway/internal/session"
)

// Gateway orchestrates the fleet-gateway server components.
// It owns the coordinator and the HTTP server exposing both protocols.
type Gateway struct {
	config      *config.Config
	coordinator *coordinator.Coordinator
	store       history.Store
	httpServer  *http.Server
	logger      *slog.Logger
}

// initStore creates the history store based on config and environment.
func initStore(cfg *config.Config) (history.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("FLEET_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := history.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing history store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	coord := coordinator.New(coordinator.Config{
		LivenessTimeout: cfg.Agents.LivenessTimeout,
		CommandTimeout:  cfg.Agents.CommandTimeout,
		SweepInterval:   cfg.Agents.SweepInterval,
		History:         s,
		Logger:          logger,
	})

	g := &Gateway{
		config:      cfg,
		coordinator: coord,
		store:       s,
		logger:      logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	g.registerAPIRoutes(mux)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// registerAPIRoutes registers the agent-facing and operator-facing routes.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	// Agent-facing protocol
	mux.HandleFunc("POST /api/agents/register", g.handleRegister)
	mux.HandleFunc("POST /api/agents/{id}/ping", g.handlePing)
	mux.HandleFunc("POST /api/agents/{id}/poll", g.handlePoll)
	mux.HandleFunc("POST /api/commands/{id}/result", g.handleReportResult)
	mux.HandleFunc("POST /api/agents/{id}/screenshot", g.handleUploadScreenshot)

	// Operator-facing protocol
	mux.HandleFunc("GET /api/agents", g.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", g.handleGetAgent)
	mux.HandleFunc("POST /api/agents/{id}/execute", g.handleSubmitCommand)
	mux.HandleFunc("GET /api/agents/{id}/commands", g.handleCommandHistory)
	mux.HandleFunc("GET /api/agents/{id}/queue", g.handlePendingCommands)
	mux.HandleFunc("GET /api/agents/{id}/screenshots", g.handleListScreenshots)
	mux.HandleFunc("DELETE /api/commands/{id}", g.handleCancelCommand)
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.coordinator.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one agent is registered.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	agents := g.coordinator.ListAgents()
	if len(agents) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents registered"))
		return
	}
	online := 0
	for _, a := range agents {
		if a.Status == session.StatusOnline {
			online++
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents, %d online)", len(agents), online)
}
