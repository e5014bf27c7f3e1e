// ABOUTME: Store interface and data types for the durable directive queue.
// ABOUTME: Defines the Message lifecycle (pending, sent, acknowledged) and its errors.

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested message does not exist.
var ErrNotFound = errors.New("message not found")

// ErrNotFoundOrNotClaimed is returned by Acknowledge when the message does
// not exist, is not currently sent, or is claimed by a different recipient.
// The cases are deliberately indistinguishable so a caller cannot probe
// claim ownership it does not hold.
var ErrNotFoundOrNotClaimed = errors.New("message not found or not claimed by caller")

// ErrInvalidEventType is returned by Enqueue for an event type outside the
// closed enumeration.
var ErrInvalidEventType = errors.New("invalid event type")

// Status is the delivery state of a queued message. Transitions only move
// forward: pending -> sent -> acknowledged. The store enforces this with
// conditional updates; CanTransitionTo documents the table.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusAcknowledged Status = "acknowledged"
)

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle step.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSent
	case StatusSent:
		return next == StatusAcknowledged
	default:
		return false
	}
}

// EventType categorizes a queued directive. The enumeration is closed:
// Enqueue rejects anything else.
type EventType string

const (
	// EventMention notifies an agent that it was mentioned somewhere it
	// should look at.
	EventMention EventType = "mention_notification"
	// EventCleanup directs an agent to clean up after a completed task.
	EventCleanup EventType = "cleanup_directive"
	// EventSession carries a session-scoped directive for a specific channel.
	EventSession EventType = "session_directive"
)

// Valid reports whether t is a member of the closed enumeration.
func (t EventType) Valid() bool {
	switch t {
	case EventMention, EventCleanup, EventSession:
		return true
	}
	return false
}

// Message is one durable directive addressed to a recipient that may be
// offline or polling. Target is assigned by the caller's routing decision
// before Enqueue and never changes. Messages are never deleted by this
// layer; retention is an external concern.
type Message struct {
	ID             string
	EventType      EventType
	Payload        json.RawMessage
	Status         Status
	Target         string
	ClaimedBy      string
	ClaimedAt      *time.Time
	SentAt         *time.Time
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
}

// Store is the durable queue used by the offline delivery path.
type Store interface {
	// Enqueue creates a pending message for target. Per-target creation
	// order defines claim order; there is no ordering across targets.
	Enqueue(ctx context.Context, eventType EventType, payload json.RawMessage, target string) (*Message, error)

	// ClaimForDelivery atomically moves up to limit pending messages for
	// recipient to sent, oldest first, stamping claimed_by/claimed_at/sent_at.
	// Under concurrent calls each message is claimed by exactly one caller.
	// An empty result is not an error. On a mid-batch failure the messages
	// claimed so far are returned alongside the error; they are already in
	// sent state and must reach the claimant.
	ClaimForDelivery(ctx context.Context, recipient string, limit int) ([]*Message, error)

	// Acknowledge moves a sent message claimed by claimant to acknowledged.
	// Returns ErrNotFoundOrNotClaimed otherwise, with no side effects.
	Acknowledge(ctx context.Context, id, claimant string) error

	// GetMessage returns a message by ID, or ErrNotFound.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListByTarget returns messages for a target in creation order, any
	// status, for admin visibility.
	ListByTarget(ctx context.Context, target string, limit int) ([]*Message, error)

	// Close releases any resources held by the store.
	Close() error
}
