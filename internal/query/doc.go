// Package query is the read and write API of a node as seen by clients.
//
// Facade composes Store calls into the public record shape: lookups by id,
// linked records of a cluster, searches, counts, uploads and direct
// metadata updates. Every call reports to a stats.Sink.
//
// Full (non-concise) results do not read structured representations up
// front. Result.Parsed loads the blob on first access, so a caller that
// only looks at metadata never touches the blob area.
package query
