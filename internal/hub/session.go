// ABOUTME: Represents one live control connection to a remote agent hub.
// ABOUTME: Buffers outbound envelopes for the transport layer to drain.

package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

// ErrSessionClosed indicates a push raced a detach: the session's outbound
// queue is no longer drained.
var ErrSessionClosed = errors.New("session closed")

// ErrSessionBacklogged indicates the transport is not draining the outbound
// queue fast enough; the subject is live but effectively unreachable for
// this push.
var ErrSessionBacklogged = errors.New("session outbound queue full")

// outboundBufferSize is the per-session envelope buffer drained by the
// transport layer.
const outboundBufferSize = 16

// Envelope is the unit pushed over a live channel. RequestID is set only
// when the caller awaits a synchronous reply correlated to it.
type Envelope struct {
	RequestID string          `json:"request_id,omitempty"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Session is one attached hub control connection. The transport layer owns
// the receiving side of Outbound and forwards envelopes to the remote agent.
type Session struct {
	Subject string

	mu       sync.Mutex
	outbound chan *Envelope
	closed   bool
	logger   *slog.Logger
}

// newSession creates a session for a subject. Construction happens through
// Hub.Attach so liveness and registration stay consistent.
func newSession(subject string, logger *slog.Logger) *Session {
	return &Session{
		Subject:  subject,
		outbound: make(chan *Envelope, outboundBufferSize),
		logger:   logger,
	}
}

// Send queues an envelope for the transport to deliver. It never blocks:
// a full buffer is reported as ErrSessionBacklogged so the caller can fall
// back to the durable queue path.
func (s *Session) Send(env *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	select {
	case s.outbound <- env:
		return nil
	default:
		s.logger.Warn("outbound queue full, refusing push",
			"subject", s.Subject,
			"request_id", env.RequestID,
		)
		return ErrSessionBacklogged
	}
}

// Outbound returns the channel the transport drains. It is closed when the
// session detaches.
func (s *Session) Outbound() <-chan *Envelope {
	return s.outbound
}

// close marks the session dead and closes the outbound channel. Called by
// Hub.Detach with the session removed from the registry first.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.outbound)
}
