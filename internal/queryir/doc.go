// Package queryir provides the query representation behind string search.
//
// A search request (Find) is lowered to a small predicate tree that the
// querysql package compiles to parameterized SQL:
//
//	[search parameters] → Find → Lower → [Predicate tree] → querysql → SQL
//
// # Sealed Interfaces
//
// Query and Predicate are sealed with marker methods. Only types in this
// package implement them, so backends can switch exhaustively:
//
//	switch p := pred.(type) {
//	case Contains:
//	case And:
//	...
//	}
//
// # Critical Patterns
//
// Empty queries are rejected: a Find must carry at least one usable text,
// type, user, detail or identifier predicate. Text predicates that are
// blank or consist only of '%' do not count and are dropped.
//
// Values are never interpolated into SQL. Field and column names come only
// from this package's constants or from index columns registered with the
// store.
package queryir
