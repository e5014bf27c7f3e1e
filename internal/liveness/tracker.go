// ABOUTME: Tracks hub-level and channel-level reachability per subject.
// ABOUTME: Driven by connect/disconnect/heartbeat events with a stale-heartbeat sweeper.

package liveness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level distinguishes the two independent reachability dimensions tracked
// per subject.
type Level string

const (
	// LevelHub covers the agent process's control connection as a whole.
	LevelHub Level = "hub"
	// LevelChannel covers one logical session layered on the hub connection.
	LevelChannel Level = "channel"
)

// State is the reachability state at one level. Hub subjects move between
// StateOnline and StateOffline; channel subjects between StateConnected and
// StateDisconnected.
type State string

const (
	StateOnline       State = "online"
	StateOffline      State = "offline"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// upState returns the reachable state for a level.
func upState(level Level) State {
	if level == LevelChannel {
		return StateConnected
	}
	return StateOnline
}

// downState returns the unreachable state for a level.
func downState(level Level) State {
	if level == LevelChannel {
		return StateDisconnected
	}
	return StateOffline
}

// ChannelSubject derives the channel-level subject ID for a logical session
// layered on a hub connection.
func ChannelSubject(hubSubject, channelID string) string {
	return hubSubject + "/" + channelID
}

// Record is the tracked state for one (subject, level) pair.
type Record struct {
	Subject          string
	Level            Level
	State            State
	LastTransitionAt time.Time
	LastSeenAt       time.Time
}

// Transition is published to subscribers whenever a record changes state.
type Transition struct {
	Subject string
	Level   Level
	From    State
	To      State
	At      time.Time
}

const subscriberBufferSize = 16

type key struct {
	subject string
	level   Level
}

// Tracker maintains liveness records and notifies subscribers of state
// transitions. All operations are non-blocking. A background sweeper forces
// records to the unreachable state when no heartbeat arrives within the
// configured window.
type Tracker struct {
	mu      sync.RWMutex
	records map[key]*Record
	subs    map[string]chan Transition
	window  time.Duration
	logger  *slog.Logger
	done    chan struct{}
	closed  bool
}

// NewTracker creates a tracker whose sweeper marks records unreachable after
// window without a heartbeat. Pass nil logger for default.
func NewTracker(window time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		records: make(map[key]*Record),
		subs:    make(map[string]chan Transition),
		window:  window,
		logger:  logger.With("component", "liveness"),
		done:    make(chan struct{}),
	}
	go t.sweep()
	return t
}

// OnConnect records that subject became reachable at the given level.
func (t *Tracker) OnConnect(subject string, level Level) {
	t.transition(subject, level, upState(level), true, nil)
}

// OnDisconnect records that subject became unreachable at the given level.
func (t *Tracker) OnDisconnect(subject string, level Level) {
	t.transition(subject, level, downState(level), false, nil)
}

// Heartbeat refreshes the last-seen timestamp for (subject, level).
// A heartbeat for an unreachable or unknown subject also brings it up:
// a live keepalive is proof of reachability.
func (t *Tracker) Heartbeat(subject string, level Level) {
	t.transition(subject, level, upState(level), true, nil)
}

// State returns the current state for (subject, level) without blocking.
// A subject that has never produced an event reports the unreachable state.
func (t *Tracker) State(subject string, level Level) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[key{subject, level}]
	if !ok {
		return downState(level)
	}
	return rec.State
}

// Lookup returns a copy of the record for (subject, level), if one exists.
func (t *Tracker) Lookup(subject string, level Level) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[key{subject, level}]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Subscribe registers for transition notifications. The subscription is
// removed when ctx is cancelled. Slow subscribers have transitions dropped
// rather than blocking event processing.
func (t *Tracker) Subscribe(ctx context.Context) <-chan Transition {
	subID := uuid.New().String()
	ch := make(chan Transition, subscriberBufferSize)

	t.mu.Lock()
	t.subs[subID] = ch
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.unsubscribe(subID)
	}()

	return ch
}

// Close stops the sweeper and closes all subscriber channels. Safe to call
// multiple times.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
	for subID, ch := range t.subs {
		close(ch)
		delete(t.subs, subID)
	}
}

// transition moves (subject, level) to the target state, creating the record
// on first sight. seen controls whether the last-seen timestamp refreshes.
// A non-nil guard is evaluated under the lock and aborts the transition when
// it returns false.
func (t *Tracker) transition(subject string, level Level, to State, seen bool, guard func(*Record) bool) {
	now := time.Now().UTC()

	t.mu.Lock()
	k := key{subject, level}
	rec, ok := t.records[k]
	if !ok {
		rec = &Record{Subject: subject, Level: level, State: downState(level)}
		t.records[k] = rec
	}
	if guard != nil && !guard(rec) {
		t.mu.Unlock()
		return
	}
	if seen {
		rec.LastSeenAt = now
	}

	from := rec.State
	if from == to {
		t.mu.Unlock()
		return
	}
	rec.State = to
	rec.LastTransitionAt = now

	// Publish while still holding the lock. The sends are non-blocking, and
	// unsubscribe/Close close subscriber channels under this same lock, so a
	// send can never race a close.
	ev := Transition{Subject: subject, Level: level, From: from, To: to, At: now}
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			t.logger.Debug("dropped transition for slow subscriber",
				"subject", subject,
				"level", string(level),
			)
		}
	}
	t.mu.Unlock()

	t.logger.Info("liveness transition",
		"subject", subject,
		"level", string(level),
		"from", string(from),
		"to", string(to),
	)
}

// sweep periodically forces records with stale heartbeats to the unreachable
// state. The tick is a quarter of the window so expiry lands near the window
// boundary rather than up to a full window late.
func (t *Tracker) sweep() {
	interval := t.window / 4
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.expireStale()
		case <-t.done:
			return
		}
	}
}

// expireStale collects subjects whose heartbeats lapsed and marks them down.
func (t *Tracker) expireStale() {
	cutoff := time.Now().UTC().Add(-t.window)

	t.mu.RLock()
	var stale []key
	for k, rec := range t.records {
		if rec.State == upState(k.level) && rec.LastSeenAt.Before(cutoff) {
			stale = append(stale, k)
		}
	}
	t.mu.RUnlock()

	for _, k := range stale {
		t.logger.Warn("heartbeat window expired",
			"subject", k.subject,
			"level", string(k.level),
		)
		// Re-check staleness under the lock: a heartbeat may have landed
		// between the scan and this transition.
		t.transition(k.subject, k.level, downState(k.level), false, func(rec *Record) bool {
			return rec.LastSeenAt.Before(cutoff)
		})
	}
}

// unsubscribe removes a subscription and closes its channel.
func (t *Tracker) unsubscribe(subID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.subs[subID]
	if !ok {
		return
	}
	delete(t.subs, subID)
	close(ch)
}
