// Package engine implements pull replication between string pools.
//
// Each configured peer is synced by its own cycle, a small state machine:
//
//	IDLE -> FETCHING_FEED -> (empty feed: IDLE)
//	     -> RESOLVING -> FETCHING_BATCH -> APPLYING
//	     -> (feed hit the cap: FETCHING_FEED again)
//	     -> ADVANCE_WATERMARK -> IDLE
//
// FETCHING_FEED asks the peer for its change feed since the persisted
// watermark minus a slack that tolerates coarse peer clocks. RESOLVING
// compares every entry with the local record: absent or different content
// is queued for fetch, older entries are ignored, equal content only
// applies canonical id and deleted flag. FETCHING_BATCH and APPLYING pull
// the queued records in bounded batches and upsert them. ADVANCE_WATERMARK
// persists the highest local update time that was fully resolved.
//
// CRITICAL PATTERNS:
//
// Watermark safety: the watermark never moves past an entry that was not
// resolved. A failed batch stops the cycle; the next cycle re-reads the feed
// from the last safe point and re-applies idempotently.
//
// Failure scoping: a failure aborts the cycle of one peer only. Cycles of
// different peers share nothing but the Store, which serializes per id.
//
// Bounded work: feed pages are capped (DefaultFeedCap) and fetches are
// batched (DefaultBatchSize), so memory and in-flight requests do not grow
// with the pool.
package engine
