// Package dispatch glues the three delivery primitives together: it reads
// liveness to pick a path per directive, pushes over the hub with a
// correlation-store wait for synchronous callers, and falls back to the
// durable queue when the target is not reachable.
//
// Both paths present the same contract to callers: a SendResult saying how
// the directive traveled, and for reply-wanting pushes either the reply
// value or correlate.ErrTimedOut.
package dispatch
