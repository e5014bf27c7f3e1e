// ABOUTME: Registry of attached agent sessions and the live push channel over them.
// ABOUTME: Bridges transport connect/disconnect/reply events into liveness and correlation.

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/waypost/waypost/internal/correlate"
	"github.com/waypost/waypost/internal/liveness"
)

// ErrSessionAlreadyAttached indicates a session for the same subject is
// already attached.
var ErrSessionAlreadyAttached = errors.New("session already attached")

// ErrSubjectOffline indicates no session is attached for the push target.
var ErrSubjectOffline = errors.New("subject has no attached session")

// Hub tracks the live control connections to remote agent processes and
// routes pushes and replies over them. Attach/Detach/ConnectChannel are
// called by the transport layer; Push is called by the dispatcher.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	tracker *liveness.Tracker
	waits   *correlate.Table
	logger  *slog.Logger
}

// New creates a Hub that feeds liveness events into tracker and replies
// into waits.
func New(tracker *liveness.Tracker, waits *correlate.Table, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		tracker:  tracker,
		waits:    waits,
		logger:   logger.With("component", "hub"),
	}
}

// Attach registers a control connection for subject and marks it online.
// Returns ErrSessionAlreadyAttached if a session for the subject exists;
// the transport must detach the old one first.
func (h *Hub) Attach(subject string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[subject]; exists {
		return nil, ErrSessionAlreadyAttached
	}

	sess := newSession(subject, h.logger)
	h.sessions[subject] = sess
	h.tracker.OnConnect(subject, liveness.LevelHub)

	h.logger.Info("session attached",
		"subject", subject,
		"total_sessions", len(h.sessions),
	)
	return sess, nil
}

// Detach removes the session for subject and marks it offline. Channel-level
// records for the subject's sessions go down with the control connection.
func (h *Hub) Detach(subject string) {
	h.mu.Lock()
	sess, exists := h.sessions[subject]
	if exists {
		delete(h.sessions, subject)
	}
	remaining := len(h.sessions)
	h.mu.Unlock()

	if !exists {
		return
	}

	sess.close()
	h.tracker.OnDisconnect(subject, liveness.LevelHub)
	h.logger.Info("session detached",
		"subject", subject,
		"total_sessions", remaining,
	)
}

// ConnectChannel marks a logical session layered on subject's control
// connection as connected.
func (h *Hub) ConnectChannel(subject, channelID string) {
	h.tracker.OnConnect(liveness.ChannelSubject(subject, channelID), liveness.LevelChannel)
}

// DisconnectChannel marks a logical session as disconnected. The control
// connection is unaffected.
func (h *Hub) DisconnectChannel(subject, channelID string) {
	h.tracker.OnDisconnect(liveness.ChannelSubject(subject, channelID), liveness.LevelChannel)
}

// Heartbeat forwards a transport keepalive for subject's control connection.
func (h *Hub) Heartbeat(subject string) {
	h.tracker.Heartbeat(subject, liveness.LevelHub)
}

// Push delivers an envelope over subject's live session. Returns
// ErrSubjectOffline when no session is attached; the dispatcher treats any
// push failure as "not live" and falls back to the queue path.
func (h *Hub) Push(ctx context.Context, subject string, env *Envelope) error {
	h.mu.RLock()
	sess, ok := h.sessions[subject]
	h.mu.RUnlock()

	if !ok {
		return ErrSubjectOffline
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return sess.Send(env)
}

// HandleReply routes an inbound reply to the waiter registered for its
// request ID. Replies for unknown IDs (timed out, cancelled, never
// registered) are dropped; the remote side cannot act on that.
func (h *Hub) HandleReply(subject, requestID string, value json.RawMessage) {
	delivered := h.waits.Fulfill(requestID, value)
	h.logger.Debug("reply received",
		"subject", subject,
		"request_id", requestID,
		"delivered", delivered,
	)
}

// IsAttached reports whether subject currently has a control connection.
func (h *Hub) IsAttached(subject string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.sessions[subject]
	return ok
}

// Subjects returns the subjects with attached sessions.
func (h *Hub) Subjects() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subjects := make([]string, 0, len(h.sessions))
	for subject := range h.sessions {
		subjects = append(subjects, subject)
	}
	return subjects
}
