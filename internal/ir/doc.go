// Package ir provides the shared record types of the string pool.
//
// This package contains type definitions, the pull iterator contract and the
// error taxonomy. All other internal packages import ir; ir imports nothing
// internal.
//
// Key design constraints:
//   - All times are Unix epoch milliseconds (int64)
//   - ID is a pure function of the normalized plain text and never changes
//   - LocalUpdateTime is the only replication ordering key and is never
//     sent to peers as a replicated value
//   - A record with a ParseError carries no Parsed blob and no ParseChecksum
package ir
