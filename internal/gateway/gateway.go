// ABOUTME: Gateway orchestrator that wires the dispatcher, queue, and liveness tracker
// ABOUTME: Manages the HTTP server lifecycle and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/correlate"
	"github.com/waypost/waypost/internal/dispatch"
	"github.com/waypost/waypost/internal/hub"
	"github.com/waypost/waypost/internal/liveness"
	"github.com/waypost/waypost/internal/queue"
)

// Gateway orchestrates the waypost server components.
// It owns the durable queue, the liveness tracker, the session hub, and the
// dispatcher, and exposes them over an HTTP API.
type Gateway struct {
	config     *config.Config
	store      queue.Store
	tracker    *liveness.Tracker
	waits      *correlate.Table
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this gateway instance
	serverID string
}

// initStore creates the SQLite-backed queue store from config.
func initStore(cfg *config.Config) (queue.Store, error) {
	s, err := queue.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	tracker := liveness.NewTracker(cfg.Liveness.HeartbeatTimeout, logger.With("component", "liveness"))
	waits := correlate.NewTable(logger.With("component", "correlate"))
	sessionHub := hub.New(tracker, waits, logger.With("component", "hub"))

	dispatcher := dispatch.New(dispatch.Config{
		Liveness:     tracker,
		Waits:        waits,
		Store:        s,
		Channel:      sessionHub,
		ReplyTimeout: cfg.Dispatch.ReplyTimeout,
		Logger:       logger,
	})

	gw := &Gateway{
		config:     cfg,
		store:      s,
		tracker:    tracker,
		waits:      waits,
		hub:        sessionHub,
		dispatcher: dispatcher,
		logger:     logger.With("component", "gateway"),
		serverID:   generateServerID(),
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// API endpoints
	mux.HandleFunc("/api/send", gw.handleSend)
	mux.HandleFunc("/api/messages/claim", gw.handleClaim)
	mux.HandleFunc("/api/messages/ack", gw.handleAck)
	mux.HandleFunc("/api/liveness/connect", gw.handleLivenessConnect)
	mux.HandleFunc("/api/liveness/disconnect", gw.handleLivenessDisconnect)
	mux.HandleFunc("/api/liveness/heartbeat", gw.handleLivenessHeartbeat)
	mux.HandleFunc("/api/liveness", gw.handleLivenessState)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Dispatcher exposes the dispatcher for in-process callers.
func (g *Gateway) Dispatcher() *dispatch.Dispatcher {
	return g.dispatcher
}

// Hub exposes the session hub for in-process callers.
func (g *Gateway) Hub() *hub.Hub {
	return g.hub
}

// setupListener creates the TCP listener for the HTTP server.
func (g *Gateway) setupListener() (net.Listener, error) {
	g.logger.Info("starting gateway",
		"server_id", g.serverID,
		"http_addr", g.config.Server.HTTPAddr,
	)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener()
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

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

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.tracker.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

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

// handleReady returns 200 OK if the store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListByTarget(r.Context(), "_readiness_probe", 1); err != nil {
		g.logger.Error("readiness probe failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unreachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("waypost-%d", time.Now().UnixNano()%1000000)
}
