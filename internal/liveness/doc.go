// Package liveness tracks whether remote agent subjects are reachable.
//
// Two levels are tracked independently per subject: hub (is the agent
// process's control connection up at all) and channel (is one specific
// logical session connected). The dispatcher reads both to decide between
// the push path and the queue path; the decision is re-read per directive
// because liveness can flip at any time.
//
// Transitions are driven only by external events — OnConnect, OnDisconnect,
// and Heartbeat — plus a background sweeper that forces a record down when
// no heartbeat arrives within the configured window. State reads never
// block. Subscribers receive Transition notifications on buffered channels
// and are dropped-to rather than blocked-on when slow.
package liveness
