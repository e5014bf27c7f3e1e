// ABOUTME: Tests for the dispatcher's push-vs-queue path selection.
// ABOUTME: Validates reply correlation, queue fallback, and per-directive re-evaluation.

package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost/waypost/internal/correlate"
	"github.com/waypost/waypost/internal/hub"
	"github.com/waypost/waypost/internal/liveness"
	"github.com/waypost/waypost/internal/queue"
)

type fixture struct {
	dispatcher *Dispatcher
	hub        *hub.Hub
	tracker    *liveness.Tracker
	table      *correlate.Table
	store      queue.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tracker := liveness.NewTracker(time.Minute, nil)
	t.Cleanup(tracker.Close)
	table := correlate.NewTable(nil)
	h := hub.New(tracker, table, nil)
	store, err := queue.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d := New(Config{
		Liveness:     tracker,
		Waits:        table,
		Store:        store,
		Channel:      h,
		ReplyTimeout: time.Second,
	})
	return &fixture{dispatcher: d, hub: h, tracker: tracker, table: table, store: store}
}

// drainAndReply simulates the remote agent: it answers every envelope with
// request ID set, echoing a fixed value.
func drainAndReply(f *fixture, sess *hub.Session, reply json.RawMessage) {
	go func() {
		for env := range sess.Outbound() {
			if env.RequestID != "" {
				f.hub.HandleReply(sess.Subject, env.RequestID, reply)
			}
		}
	}()
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dispatcher.Send(ctx, &SendRequest{EventType: queue.EventMention})
	assert.Error(t, err, "target required")

	_, err = f.dispatcher.Send(ctx, &SendRequest{Target: "a", EventType: queue.EventType("bogus")})
	assert.ErrorIs(t, err, queue.ErrInvalidEventType)
}

func TestOfflineTargetQueues(t *testing.T) {
	f := newFixture(t)

	result, err := f.dispatcher.Send(context.Background(), &SendRequest{
		Target:    "agent-1",
		EventType: queue.EventMention,
		Payload:   json.RawMessage(`{"n":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryQueued, result.Delivery)
	require.NotEmpty(t, result.MessageID)

	msg, err := f.store.GetMessage(context.Background(), result.MessageID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, msg.Status)
	assert.Equal(t, "agent-1", msg.Target)
}

func TestLiveTargetPushes(t *testing.T) {
	f := newFixture(t)

	sess, err := f.hub.Attach("agent-1")
	require.NoError(t, err)

	result, err := f.dispatcher.Send(context.Background(), &SendRequest{
		Target:    "agent-1",
		EventType: queue.EventCleanup,
		Payload:   json.RawMessage(`{"dir":"/tmp"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryPushed, result.Delivery)
	assert.Empty(t, result.MessageID)

	env := <-sess.Outbound()
	assert.Equal(t, string(queue.EventCleanup), env.EventType)
	assert.Empty(t, env.RequestID, "fire-and-forget push carries no correlation id")
}

func TestPushWithReply(t *testing.T) {
	f := newFixture(t)

	sess, err := f.hub.Attach("agent-1")
	require.NoError(t, err)
	drainAndReply(f, sess, json.RawMessage(`{"status":200}`))

	result, err := f.dispatcher.Send(context.Background(), &SendRequest{
		Target:     "agent-1",
		EventType:  queue.EventSession,
		Payload:    json.RawMessage(`{"q":"state?"}`),
		WantsReply: true,
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryPushed, result.Delivery)
	assert.NotEmpty(t, result.RequestID)
	assert.JSONEq(t, `{"status":200}`, string(result.Reply))
	assert.Equal(t, 0, f.table.Pending(), "no leaked correlation entries")
}

func TestPushWithReplyTimesOut(t *testing.T) {
	f := newFixture(t)

	// Attached but never replying.
	_, err := f.hub.Attach("agent-1")
	require.NoError(t, err)

	start := time.Now()
	_, err = f.dispatcher.Send(context.Background(), &SendRequest{
		Target:     "agent-1",
		EventType:  queue.EventSession,
		WantsReply: true,
		Timeout:    100 * time.Millisecond,
	})
	require.ErrorIs(t, err, correlate.ErrTimedOut)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, f.table.Pending())
}

func TestChannelScopedSendRequiresConnectedChannel(t *testing.T) {
	f := newFixture(t)

	_, err := f.hub.Attach("agent-1")
	require.NoError(t, err)

	// Hub online, channel not connected: session-scoped work queues.
	result, err := f.dispatcher.Send(context.Background(), &SendRequest{
		Target:    "agent-1",
		Channel:   "sess-1",
		EventType: queue.EventSession,
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryQueued, result.Delivery)

	f.hub.ConnectChannel("agent-1", "sess-1")

	result, err = f.dispatcher.Send(context.Background(), &SendRequest{
		Target:    "agent-1",
		Channel:   "sess-1",
		EventType: queue.EventSession,
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryPushed, result.Delivery)
}

// TestPathReevaluatedPerDirective flips liveness between sends and checks
// the dispatcher never caches the previous decision.
func TestPathReevaluatedPerDirective(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := &SendRequest{Target: "agent-1", EventType: queue.EventMention}

	result, err := f.dispatcher.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, DeliveryQueued, result.Delivery)

	_, err = f.hub.Attach("agent-1")
	require.NoError(t, err)
	result, err = f.dispatcher.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, DeliveryPushed, result.Delivery)

	f.hub.Detach("agent-1")
	result, err = f.dispatcher.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, DeliveryQueued, result.Delivery)
}

// TestPushFailureFallsBackToQueue covers the race where the session detaches
// between the liveness check and the push.
func TestPushFailureFallsBackToQueue(t *testing.T) {
	f := newFixture(t)

	// Tracker says online but no session is attached: the push fails with
	// ErrSubjectOffline and the dispatcher must enqueue instead.
	f.tracker.OnConnect("agent-1", liveness.LevelHub)

	result, err := f.dispatcher.Send(context.Background(), &SendRequest{
		Target:    "agent-1",
		EventType: queue.EventMention,
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryQueued, result.Delivery)
	assert.NotEmpty(t, result.MessageID)
	assert.Equal(t, 0, f.table.Pending())
}

func TestQueuedDirectiveClaimableByRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.dispatcher.Send(ctx, &SendRequest{
		Target:    "agent-1",
		EventType: queue.EventMention,
		Payload:   json.RawMessage(`{"pr":7}`),
	})
	require.NoError(t, err)

	claimed, err := f.store.ClaimForDelivery(ctx, "agent-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, result.MessageID, claimed[0].ID)
	require.NoError(t, f.store.Acknowledge(ctx, result.MessageID, "agent-1"))
}
