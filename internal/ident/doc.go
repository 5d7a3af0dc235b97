// Package ident derives the identity of pooled strings.
//
// Every node of a pool must agree on three pure functions:
//   - Normalize: the textual form that gets stored and hashed
//   - IdentifierOf: the content address of a normalized string
//   - ClusterKeyOf: the looser key that groups near-duplicates
//
// The hash algorithm and the cluster mode are configuration, fixed for the
// lifetime of a pool. Changing either on one node splits it from its peers.
package ident
