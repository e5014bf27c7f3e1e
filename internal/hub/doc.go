// Package hub manages the live side of agent delivery: the in-process
// registry of attached control connections and the logical channels layered
// on them.
//
// The transport layer (external to this core) calls Attach/Detach when a
// hub connection comes and goes, ConnectChannel/DisconnectChannel for
// logical sessions, Heartbeat for keepalives, and HandleReply when the
// remote side answers a correlated request. Those events feed the liveness
// tracker and the correlation table; the dispatcher only sees Push.
//
// A Session buffers outbound envelopes for the transport to drain and never
// blocks a push: a full buffer or a closed session is an error the
// dispatcher converts into a queue-path delivery.
package hub
