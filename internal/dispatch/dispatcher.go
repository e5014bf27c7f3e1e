// ABOUTME: Dispatcher choosing push-vs-queue delivery per directive based on liveness.
// ABOUTME: Presents one uniform send contract over the live channel and the durable queue.

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waypost/waypost/internal/correlate"
	"github.com/waypost/waypost/internal/hub"
	"github.com/waypost/waypost/internal/liveness"
	"github.com/waypost/waypost/internal/queue"
)

// Delivery names the path a directive took.
type Delivery string

const (
	// DeliveryPushed means the directive went directly over the live channel.
	DeliveryPushed Delivery = "pushed"
	// DeliveryQueued means the directive was enqueued for claim/acknowledge.
	DeliveryQueued Delivery = "queued"
)

// Channel is the live push side of delivery, implemented by the hub.
type Channel interface {
	Push(ctx context.Context, subject string, env *hub.Envelope) error
}

// LivenessReader is the narrow tracker view the dispatcher needs.
type LivenessReader interface {
	State(subject string, level liveness.Level) liveness.State
}

// SendRequest describes one outbound directive.
type SendRequest struct {
	// Target is the hub-level subject. Required. Routing decisions (for
	// example redirecting a pull-request directive to its linked issue's
	// hub) happen before Send; the dispatcher never rewrites it.
	Target string

	// Channel optionally scopes the directive to a logical session. When
	// set, the push path additionally requires that channel to be connected.
	Channel string

	EventType queue.EventType
	Payload   json.RawMessage

	// WantsReply blocks the caller until a correlated reply arrives or the
	// timeout elapses. Only possible on the push path: a queued directive
	// yields no synchronous reply.
	WantsReply bool

	// Timeout bounds the reply wait. Zero means the dispatcher default.
	Timeout time.Duration
}

// SendResult reports how a directive was delivered. Reply is set only when
// WantsReply was true and the push path answered in time. MessageID is set
// only on the queue path.
type SendResult struct {
	Delivery  Delivery
	RequestID string
	MessageID string
	Reply     json.RawMessage
}

// Dispatcher picks a delivery path per directive. Liveness is consulted on
// every Send, never cached: the previous directive's path says nothing
// about this one.
type Dispatcher struct {
	live         LivenessReader
	waits        *correlate.Table
	store        queue.Store
	channel      Channel
	replyTimeout time.Duration
	logger       *slog.Logger
}

// Config carries the dispatcher's collaborators.
type Config struct {
	Liveness     LivenessReader
	Waits        *correlate.Table
	Store        queue.Store
	Channel      Channel
	ReplyTimeout time.Duration
	Logger       *slog.Logger
}

// New creates a Dispatcher. ReplyTimeout defaults to 30s when unset.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ReplyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		live:         cfg.Liveness,
		waits:        cfg.Waits,
		store:        cfg.Store,
		channel:      cfg.Channel,
		replyTimeout: timeout,
		logger:       logger.With("component", "dispatch"),
	}
}

// Send delivers one directive, choosing push or queue by the target's
// current liveness. On the push path with WantsReply it blocks until the
// reply arrives or the timeout elapses; correlate.ErrTimedOut is then the
// returned error. On the queue path the result carries the message ID and
// the caller polls or treats it as fire-and-forget.
func (d *Dispatcher) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	if req.Target == "" {
		return nil, fmt.Errorf("target is required")
	}
	if !req.EventType.Valid() {
		return nil, fmt.Errorf("%w: %q", queue.ErrInvalidEventType, req.EventType)
	}

	if d.isLive(req) {
		result, err := d.sendLive(ctx, req)
		if err == nil || !d.pushFailed(err) {
			return result, err
		}
		// Liveness flipped between the check and the push. The queue path
		// is the same answer the caller would have gotten a moment later.
		d.logger.Info("push failed, falling back to queue",
			"target", req.Target,
			"error", err,
		)
	}

	return d.enqueue(ctx, req)
}

// isLive evaluates the delivery gate for this directive: hub online, and
// for session-scoped work the channel connected too.
func (d *Dispatcher) isLive(req *SendRequest) bool {
	if d.live.State(req.Target, liveness.LevelHub) != liveness.StateOnline {
		return false
	}
	if req.Channel == "" {
		return true
	}
	subject := liveness.ChannelSubject(req.Target, req.Channel)
	return d.live.State(subject, liveness.LevelChannel) == liveness.StateConnected
}

// sendLive pushes the directive over the live channel, registering the
// correlation entry before the push so a fast reply cannot beat it.
func (d *Dispatcher) sendLive(ctx context.Context, req *SendRequest) (*SendResult, error) {
	env := &hub.Envelope{
		EventType: string(req.EventType),
		Payload:   req.Payload,
	}

	if !req.WantsReply {
		if err := d.channel.Push(ctx, req.Target, env); err != nil {
			return nil, err
		}
		d.logger.Debug("pushed directive",
			"target", req.Target,
			"event_type", string(req.EventType),
		)
		return &SendResult{Delivery: DeliveryPushed}, nil
	}

	requestID := uuid.New().String()
	env.RequestID = requestID

	w, err := d.waits.Register(requestID)
	if err != nil {
		// A fresh uuid colliding with a pending entry is not expected.
		return nil, fmt.Errorf("registering wait: %w", err)
	}

	if err := d.channel.Push(ctx, req.Target, env); err != nil {
		w.Cancel()
		return nil, err
	}

	d.logger.Debug("pushed directive, awaiting reply",
		"target", req.Target,
		"request_id", requestID,
		"event_type", string(req.EventType),
	)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.replyTimeout
	}

	reply, err := w.Await(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("awaiting reply for %s: %w", requestID, err)
	}
	return &SendResult{
		Delivery:  DeliveryPushed,
		RequestID: requestID,
		Reply:     reply,
	}, nil
}

// enqueue takes the durable path.
func (d *Dispatcher) enqueue(ctx context.Context, req *SendRequest) (*SendResult, error) {
	msg, err := d.store.Enqueue(ctx, req.EventType, req.Payload, req.Target)
	if err != nil {
		return nil, fmt.Errorf("enqueueing directive: %w", err)
	}

	d.logger.Debug("queued directive",
		"target", req.Target,
		"message_id", msg.ID,
		"event_type", string(req.EventType),
	)
	return &SendResult{Delivery: DeliveryQueued, MessageID: msg.ID}, nil
}

// pushFailed reports whether err is a transport-side push failure eligible
// for queue fallback, as opposed to a caller error or a reply timeout.
func (d *Dispatcher) pushFailed(err error) bool {
	return errors.Is(err, hub.ErrSubjectOffline) ||
		errors.Is(err, hub.ErrSessionClosed) ||
		errors.Is(err, hub.ErrSessionBacklogged)
}
