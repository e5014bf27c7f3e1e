// Package correlate links outbound directives to their eventual asynchronous
// replies.
//
// # Overview
//
// When the gateway pushes a directive over a live channel on behalf of a
// synchronous caller, it attaches a fresh request ID and parks the caller in
// a Table until the remote side replies with the same ID or a deadline
// passes.
//
// # Table
//
//	table := correlate.NewTable(logger)
//
// Key operations:
//
//   - RegisterAndWait(ctx, id, timeout): register and block for the reply
//   - Register(id) / Wait.Await(ctx, timeout): split form, used by the
//     dispatcher to register before pushing
//   - Fulfill(id, value): wake the waiter for id, dropping unknown IDs
//
// # Race Semantics
//
// Exactly one of fulfillment, timeout, or cancellation removes an entry.
// Fulfill deletes the entry under the table lock before sending on the
// entry's size-one buffered channel, so a waiter that loses the timeout race
// observes the entry already gone and completes the receive instead of
// reporting a timeout. No entry ever outlives its wait.
//
// # Concurrency
//
// The table lock guards only the waiter map. Waiting happens on per-entry
// channels, so concurrent callers with different request IDs never block one
// another.
package correlate
