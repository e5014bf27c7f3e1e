// ABOUTME: Correlation table mapping request IDs to blocked callers awaiting replies.
// ABOUTME: Guarantees single-removal handoff between fulfillment, timeout, and cancellation.

package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrDuplicateRegistration indicates a request ID is already pending a reply.
// This is a caller bug (ID collision) and must not be retried.
var ErrDuplicateRegistration = errors.New("request id already registered")

// ErrTimedOut indicates no reply arrived before the deadline. It is a normal
// outcome, not a failure: callers decide whether to retry, surface a gateway
// timeout, or fall back to the queue path.
var ErrTimedOut = errors.New("wait timed out")

// Table correlates request IDs to callers blocked on a reply.
// The table lock only guards the waiter map; the wait itself happens on a
// per-entry buffered channel, so unrelated requests never serialize on each
// other.
type Table struct {
	mu      sync.Mutex
	waiters map[string]chan json.RawMessage
	logger  *slog.Logger
}

// NewTable creates an empty correlation table. Pass nil logger for default.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		waiters: make(map[string]chan json.RawMessage),
		logger:  logger.With("component", "correlate"),
	}
}

// Wait is a registered pending entry. Exactly one of Await or Cancel must be
// called on it, and at most once.
type Wait struct {
	table     *Table
	requestID string
	ch        chan json.RawMessage
}

// Register creates a pending entry for requestID without blocking.
// Returns ErrDuplicateRegistration if an entry is already pending. The split
// Register/Await form lets the dispatcher register before pushing so a fast
// reply cannot race the registration.
func (t *Table) Register(requestID string) (*Wait, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.waiters[requestID]; exists {
		return nil, ErrDuplicateRegistration
	}

	// Buffer of one so the fulfiller never blocks on handoff.
	ch := make(chan json.RawMessage, 1)
	t.waiters[requestID] = ch
	return &Wait{table: t, requestID: requestID, ch: ch}, nil
}

// Await blocks the calling goroutine until the entry is fulfilled, the
// timeout elapses, or ctx is cancelled. In every outcome the entry has been
// removed from the table before Await returns.
func (w *Wait) Await(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case value := <-w.ch:
		return value, nil

	case <-timer.C:
		if w.table.remove(w.requestID, w.ch) {
			return nil, ErrTimedOut
		}
		// Fulfill won the race: it has already removed the entry and is
		// committed to sending, so the receive completes promptly.
		return <-w.ch, nil

	case <-ctx.Done():
		if w.table.remove(w.requestID, w.ch) {
			return nil, fmt.Errorf("wait cancelled: %w", ctx.Err())
		}
		return <-w.ch, nil
	}
}

// Cancel removes the entry without waiting. Used when a push fails after
// registration and no reply can ever arrive.
func (w *Wait) Cancel() {
	w.table.remove(w.requestID, w.ch)
}

// RegisterAndWait registers requestID and blocks until a correlated reply
// arrives or timeout elapses. The one-call form used by external callers that
// do not need to act between registration and suspension.
func (t *Table) RegisterAndWait(ctx context.Context, requestID string, timeout time.Duration) (json.RawMessage, error) {
	w, err := t.Register(requestID)
	if err != nil {
		return nil, err
	}
	return w.Await(ctx, timeout)
}

// Fulfill hands value to the waiter registered for requestID, if any.
// Returns true if a waiter received the value. A fulfillment with no active
// waiter (timed out, cancelled, never registered, or already fulfilled) is
// logged and dropped; the producer cannot meaningfully react to it.
func (t *Table) Fulfill(requestID string, value json.RawMessage) bool {
	t.mu.Lock()
	ch, ok := t.waiters[requestID]
	if ok {
		delete(t.waiters, requestID)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("reply for unknown request, dropping",
			"request_id", requestID,
		)
		return false
	}

	// Removal happened above under the lock; the buffered send cannot block
	// and the losing Await path is guaranteed to find the value.
	ch <- value
	return true
}

// Pending reports the number of entries currently awaiting fulfillment.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// remove deletes the entry for requestID if it still maps to ch.
// Returns true if this call removed it, false if another path already did.
func (t *Table) remove(requestID string, ch chan json.RawMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.waiters[requestID]
	if !ok || current != ch {
		return false
	}
	delete(t.waiters, requestID)
	return true
}
