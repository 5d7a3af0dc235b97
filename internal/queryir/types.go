package queryir

// Query is a compiled search over the string table.
// Sealed: only types in this package implement it.
type Query interface {
	queryNode()
}

// Predicate is a filter condition over one record.
// Sealed: only types in this package implement it.
//
// Predicate types:
//   - Contains: case-insensitive substring match on a record field
//   - Equals: exact match on a record field
//   - IndexContains: substring match on a registered index column
//   - IdentifierMatches: record has an external identifier of a type
//   - SelfCanonical: record represents its own cluster
//   - And, Or: combinations
type Predicate interface {
	predicateNode()
}

// Record fields usable in Contains and Equals.
const (
	FieldPlainText  = "plain_text"
	FieldType       = "type"
	FieldCreateUser = "create_user"
	FieldUpdateUser = "update_user"
	FieldID         = "id"
	FieldCanonical  = "canonical_id"
	FieldClusterID  = "cluster_id"
)

// Select reads records matching Filter, oldest first.
//
//	SELECT <columns> FROM strings WHERE <filter>
//	ORDER BY create_time, id LIMIT <limit>
type Select struct {
	Filter Predicate // nil = all records
	Limit  int       // 0 = no limit
}

func (Select) queryNode() {}

// Contains matches records whose field contains Value, ignoring case.
type Contains struct {
	Field string
	Value string
}

func (Contains) predicateNode() {}

// Equals matches records whose field equals Value exactly.
type Equals struct {
	Field string
	Value string
}

func (Equals) predicateNode() {}

// IndexContains matches records whose index column contains Value.
// Case handling follows the column's registration.
type IndexContains struct {
	Column string
	Value  string
}

func (IndexContains) predicateNode() {}

// IdentifierMatches matches records carrying an external identifier whose
// type contains Type and whose value equals Value, ignoring case.
type IdentifierMatches struct {
	Type  string
	Value string
}

func (IdentifierMatches) predicateNode() {}

// SelfCanonical matches records that are their own canonical representative.
type SelfCanonical struct{}

func (SelfCanonical) predicateNode() {}

// And matches when all predicates match. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or matches when any predicate matches. An empty Or matches nothing.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}
