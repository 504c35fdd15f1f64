// Package outbox implements the transactional outbox pattern, coupling a
// database mutation with the durable intent to publish an event about it.
//
// The pattern involves three cooperating pieces:
//
//  1. Writing: the Writer runs caller-supplied business writes and the outbox
//     record insert inside one transaction. Either both commit or neither
//     does, so an event can never be announced for a business effect that did
//     not happen, and can never be missing for one that did.
//
//  2. Relaying: after commit the Relay publishes the record to the broker on
//     a detached goroutine and flips its sent flag. A relay failure is logged
//     and abandoned; it never reaches the caller.
//
//  3. Sweeping: the Sweeper periodically re-scans for unsent records and
//     publishes them, oldest first. It is the durability backstop for process
//     crashes between commit and relay. Delivery is at least once; consumers
//     must tolerate duplicates.
//
// Records about the same entity can carry a monotonic aggregate version,
// computed inside the writing transaction, which lets consumers discard
// stale or out-of-order deliveries.
//
// The package is agnostic to the storage backend: the Store interface has a
// database/sql implementation in the sqlstore subpackage and a MongoDB
// implementation in the mongostore subpackage.
package outbox
