package queryir

import (
	"sort"
	"strings"

	"github.com/roach88/stringpool/internal/ir"
)

// IdentifierPrefix marks a detail predicate that searches external
// identifiers: "ID-doi" = "10.1000/xyz".
const IdentifierPrefix = "ID-"

// Find holds the parameters of a search request.
type Find struct {
	// Text predicates on the plain text, combined with AND unless
	// Disjunctive is set.
	Text        []string
	Disjunctive bool

	Type string // substring of the record type
	User string // substring of the creating or updating user

	// Details maps index column names (or IdentifierPrefix + type) to
	// substrings to look for.
	Details map[string]string

	SelfCanonicalOnly bool
	Limit             int
	Concise           bool
}

// usable reports whether a text predicate carries more than wildcards.
func usable(s string) bool {
	return strings.Trim(s, " \t\r\n%") != ""
}

// Lower converts the search parameters into a query. It fails with a
// VALIDATION error when no predicate is usable.
func Lower(f Find) (Select, error) {
	var texts []Predicate
	for _, t := range f.Text {
		if usable(t) {
			texts = append(texts, Contains{Field: FieldPlainText, Value: t})
		}
	}

	var parts []Predicate
	if len(texts) > 0 {
		if f.Disjunctive {
			parts = append(parts, Or{Predicates: texts})
		} else {
			parts = append(parts, texts...)
		}
	}
	if usable(f.Type) {
		parts = append(parts, Contains{Field: FieldType, Value: f.Type})
	}
	if usable(f.User) {
		parts = append(parts, Or{Predicates: []Predicate{
			Contains{Field: FieldCreateUser, Value: f.User},
			Contains{Field: FieldUpdateUser, Value: f.User},
		}})
	}

	// Sorted so equal requests compile to equal SQL.
	names := make([]string, 0, len(f.Details))
	for name := range f.Details {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := f.Details[name]
		if !usable(value) || name == "" {
			continue
		}
		if idType, ok := strings.CutPrefix(name, IdentifierPrefix); ok {
			parts = append(parts, IdentifierMatches{Type: idType, Value: value})
			continue
		}
		parts = append(parts, IndexContains{Column: name, Value: value})
	}

	if len(parts) == 0 {
		return Select{}, ir.NewValidationError("find", "", "Empty query")
	}
	if f.SelfCanonicalOnly {
		parts = append(parts, SelfCanonical{})
	}

	var filter Predicate = And{Predicates: parts}
	if len(parts) == 1 {
		filter = parts[0]
	}
	return Select{Filter: filter, Limit: f.Limit}, nil
}
