// Package gateway orchestrates the waypost server components.
//
// # Overview
//
// The gateway package is the central coordinator of the waypost server. It
// owns and manages all major components: the durable message queue, the
// liveness tracker, the session hub, the reply correlation table, and the
// dispatcher, and exposes them over an HTTP API.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config     *config.Config
//	    store      queue.Store
//	    tracker    *liveness.Tracker
//	    waits      *correlate.Table
//	    hub        *hub.Hub
//	    dispatcher *dispatch.Dispatcher
//	    httpServer *http.Server
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/send - Dispatch a directive (pushed live or queued)
//   - POST /api/messages/claim - Atomically claim pending messages
//   - POST /api/messages/ack - Acknowledge a claimed message
//   - POST /api/liveness/connect - Mark a subject or channel reachable
//   - POST /api/liveness/disconnect - Mark a subject or channel unreachable
//   - POST /api/liveness/heartbeat - Refresh a subject's heartbeat
//   - GET /api/liveness - Query current liveness state
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store reachable)
//
// # Delivery Paths
//
// POST /api/send resolves to one of two paths per directive:
//
//	delivery: "pushed" - target was live, directive went over its session
//	delivery: "queued" - target was down, directive awaits claim/ack
//
// With wants_reply the pushed path blocks until the correlated reply arrives
// or times out (504). Queued directives never produce a synchronous reply.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//
// Run shuts the HTTP server down, stops the liveness sweeper, and closes the
// store before returning.
package gateway
