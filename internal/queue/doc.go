// Package queue is the durable delivery path for directives whose recipient
// is offline or polling instead of live-connected.
//
// # Lifecycle
//
// A Message moves through exactly three states, forward only:
//
//	pending -> sent -> acknowledged
//
// Enqueue creates pending messages. ClaimForDelivery transitions
// pending -> sent and stamps claimed_by/claimed_at/sent_at together, exactly
// once per message. Acknowledge transitions sent -> acknowledged and only
// succeeds for the recipient holding the claim. Nothing here deletes
// messages; a sent message whose claimant never acknowledges stays sent.
// There is no lease expiry or redelivery: the claimed_at column exists so a
// redelivery sweeper can be added later without a schema migration.
//
// # Claim Atomicity
//
// The SQLite store performs each claim as a single conditional
// UPDATE ... RETURNING statement, so the select-and-transition is never
// split across two steps. N concurrent claimers for one recipient partition
// the pending set; a claimer that loses every race gets an empty slice, not
// an error.
//
// # Ordering
//
// Per-target claim order follows creation order via a monotonic sequence
// column. There is no ordering relationship across targets.
package queue
