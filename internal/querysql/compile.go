// Package querysql compiles queryir queries to SQLite SQL.
//
// Generated SQL is always parameterized and always ordered:
//
//	ORDER BY data.create_time ASC, data.id COLLATE BINARY ASC
//
// so that equal requests return equal result lists.
package querysql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/stringpool/internal/queryir"
)

// Table aliases used in generated SQL.
const (
	recordTable     = "strings"
	indexTable      = "string_index"
	identifierTable = "string_identifiers"
)

var recordFields = map[string]bool{
	queryir.FieldPlainText:  true,
	queryir.FieldType:       true,
	queryir.FieldCreateUser: true,
	queryir.FieldUpdateUser: true,
	queryir.FieldID:         true,
	queryir.FieldCanonical:  true,
	queryir.FieldClusterID:  true,
}

// validColumn matches names safe to splice into SQL as identifiers.
var validColumn = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidColumnName reports whether name can be used as an index column.
func ValidColumnName(name string) bool {
	return validColumn.MatchString(name) && !strings.EqualFold(name, "id")
}

// SQLCompiler compiles queries for one store schema.
type SQLCompiler struct {
	// Columns lists the record columns to select, qualified by the
	// compiler with the record table alias.
	Columns []string

	// IndexColumns maps registered index columns to their case
	// sensitivity. Only these columns may appear in IndexContains.
	IndexColumns map[string]bool
}

// NewSQLCompiler creates a compiler selecting columns.
func NewSQLCompiler(columns []string, indexColumns map[string]bool) *SQLCompiler {
	return &SQLCompiler{Columns: columns, IndexColumns: indexColumns}
}

// Compile compiles q to SQL and its parameters.
// CRITICAL: values are never interpolated, always bound as parameters.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(s queryir.Select) (string, []any, error) {
	if len(c.Columns) == 0 {
		return "", nil, fmt.Errorf("no columns to select")
	}
	where, params, err := c.compilePredicate(s.Filter)
	if err != nil {
		return "", nil, err
	}

	cols := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		cols[i] = "data." + col
	}

	from := recordTable + " AS data"
	if usesIndex(s.Filter) {
		from += " LEFT JOIN " + indexTable + " AS idx ON idx.id = data.id"
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		strings.Join(cols, ", "), from, where, stableOrderKey())
	if s.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, s.Limit)
	}
	return sql, params, nil
}

// stableOrderKey returns the ORDER BY clause every query ends with.
func stableOrderKey() string {
	return "data.create_time ASC, data.id COLLATE BINARY ASC"
}

// compilePredicate compiles a predicate to a WHERE fragment.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case queryir.Contains:
		return c.compileContains(pred)
	case *queryir.Contains:
		return c.compileContains(*pred)
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.IndexContains:
		return c.compileIndexContains(pred)
	case *queryir.IndexContains:
		return c.compileIndexContains(*pred)
	case queryir.IdentifierMatches:
		return c.compileIdentifier(pred)
	case *queryir.IdentifierMatches:
		return c.compileIdentifier(*pred)
	case queryir.SelfCanonical, *queryir.SelfCanonical:
		return "(data.canonical_id = data.id OR data.canonical_id = '')", nil, nil
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case *queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	case *queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileContains compiles "lower(field) LIKE ?" with a lowercased,
// escaped %value% pattern.
func (c *SQLCompiler) compileContains(pred queryir.Contains) (string, []any, error) {
	if !recordFields[pred.Field] {
		return "", nil, fmt.Errorf("unknown record field %q", pred.Field)
	}
	sql := fmt.Sprintf(`lower(data.%s) LIKE ? ESCAPE '\'`, pred.Field)
	return sql, []any{"%" + escapeLike(strings.ToLower(pred.Value)) + "%"}, nil
}

func (c *SQLCompiler) compileEquals(pred queryir.Equals) (string, []any, error) {
	if !recordFields[pred.Field] {
		return "", nil, fmt.Errorf("unknown record field %q", pred.Field)
	}
	return fmt.Sprintf("data.%s = ?", pred.Field), []any{pred.Value}, nil
}

// compileIndexContains matches an index column. Index values of
// case-insensitive columns are stored lowercased.
func (c *SQLCompiler) compileIndexContains(pred queryir.IndexContains) (string, []any, error) {
	caseSensitive, ok := c.IndexColumns[pred.Column]
	if !ok || !ValidColumnName(pred.Column) {
		return "", nil, fmt.Errorf("unknown index column %q", pred.Column)
	}
	if caseSensitive {
		return fmt.Sprintf("instr(idx.%s, ?) > 0", pred.Column), []any{pred.Value}, nil
	}
	sql := fmt.Sprintf(`idx.%s LIKE ? ESCAPE '\'`, pred.Column)
	return sql, []any{"%" + escapeLike(strings.ToLower(pred.Value)) + "%"}, nil
}

// compileIdentifier matches external identifiers: type by substring,
// value exactly, both lowercased as stored.
func (c *SQLCompiler) compileIdentifier(pred queryir.IdentifierMatches) (string, []any, error) {
	sql := "EXISTS (SELECT 1 FROM " + identifierTable + " AS ids WHERE ids.id = data.id" +
		` AND ids.id_type LIKE ? ESCAPE '\' AND ids.id_value = ?)`
	return sql, []any{
		"%" + escapeLike(strings.ToLower(pred.Type)) + "%",
		strings.ToLower(strings.TrimSpace(pred.Value)),
	}, nil
}

func (c *SQLCompiler) compileJunction(preds []queryir.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}
	var parts []string
	var params []any
	for _, p := range preds {
		sql, ps, err := c.compilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, ps...)
	}
	if len(parts) == 1 {
		return parts[0], params, nil
	}
	return "(" + strings.Join(parts, sep) + ")", params, nil
}

// usesIndex reports whether a predicate tree references the index table.
func usesIndex(p queryir.Predicate) bool {
	switch pred := p.(type) {
	case queryir.IndexContains, *queryir.IndexContains:
		return true
	case queryir.And:
		return anyUsesIndex(pred.Predicates)
	case *queryir.And:
		return anyUsesIndex(pred.Predicates)
	case queryir.Or:
		return anyUsesIndex(pred.Predicates)
	case *queryir.Or:
		return anyUsesIndex(pred.Predicates)
	default:
		return false
	}
}

func anyUsesIndex(preds []queryir.Predicate) bool {
	for _, p := range preds {
		if usesIndex(p) {
			return true
		}
	}
	return false
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
