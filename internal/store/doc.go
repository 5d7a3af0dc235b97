// Package store provides SQLite-backed storage for the string pool.
//
// The store keeps:
//   - strings: one row per record, keyed by content-address id
//   - string_history: append-only audit trail of accepted writes
//   - string_index: deployment-declared attributes of structured records
//   - string_identifiers: external identifiers of structured records
//   - peer_watermarks: replication progress per peer
//
// Structured representations live in a blob.Store next to the database.
//
// # Critical Patterns
//
// Per-id serialization: Upsert and ApplySimpleUpdate read and then
// conditionally write, so both hold a lock keyed by record id. Writes of
// different ids only contend on SQLite's writer lock.
//
// Conflict rule: an incoming update is accepted only if its update time is
// not older than the stored one. Stale updates are ignored and the stored
// state is returned; they are not errors.
//
// No-op writes: a write that changes nothing leaves the row, the history and
// the local update time untouched, so re-applying a replicated record does
// not generate feed churn.
//
// Local update time: strictly increasing per record and the only ordering
// key of the feed (ORDER BY local_update_time ASC, id COLLATE BINARY ASC).
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: history and index rows reference their record
//   - _txlock=immediate: write transactions take the writer lock up front
//
// Every error returned by this package is an *ir.Error.
package store
