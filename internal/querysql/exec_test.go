package querysql_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/queryir"
	"github.com/roach88/stringpool/internal/querysql"
	"github.com/roach88/stringpool/internal/store"
)

// Compiled SQL must be accepted by SQLite against the real store schema.
func TestCompile_ExecutesAgainstStoreSchema(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "pool.db"), store.WithIndexes(
		store.IndexSpec{Name: "author"},
		store.IndexSpec{Name: "isbn", CaseSensitive: true},
	))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	res, err := s.Upsert(ctx, ir.Record{PlainText: "Smith J. Alpha paper. 2001"}, ir.SourceFrom("node-a", ir.SourceLocal, ""))
	require.NoError(t, err)

	c := querysql.NewSQLCompiler([]string{"id", "plain_text"}, map[string]bool{"author": false, "isbn": true})

	tests := []struct {
		name  string
		query queryir.Select
		want  int
	}{
		{"no filter", queryir.Select{}, 1},
		{"contains", queryir.Select{Filter: queryir.Contains{Field: queryir.FieldPlainText, Value: "alpha"}}, 1},
		{"equals", queryir.Select{Filter: queryir.Equals{Field: queryir.FieldID, Value: res.ID}}, 1},
		{"self canonical", queryir.Select{Filter: queryir.SelfCanonical{}}, 1},
		{"empty or", queryir.Select{Filter: queryir.Or{}}, 0},
		{"identifier", queryir.Select{Filter: queryir.IdentifierMatches{Type: "doi", Value: "10.1/x"}}, 0},
		{"index columns", queryir.Select{Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.IndexContains{Column: "author", Value: "smith"},
			queryir.IndexContains{Column: "isbn", Value: "978"},
		}}}, 0},
		{"junction with limit", queryir.Select{
			Filter: queryir.Or{Predicates: []queryir.Predicate{
				queryir.Contains{Field: queryir.FieldPlainText, Value: "smith"},
				queryir.Contains{Field: queryir.FieldCreateUser, Value: "nobody"},
			}},
			Limit: 5,
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := c.Compile(tt.query)
			require.NoError(t, err)

			rows, err := s.DB().QueryContext(ctx, query, args...)
			require.NoError(t, err, query)
			defer rows.Close()

			n := 0
			for rows.Next() {
				var id, text string
				require.NoError(t, rows.Scan(&id, &text))
				assert.Equal(t, res.ID, id)
				n++
			}
			require.NoError(t, rows.Err())
			assert.Equal(t, tt.want, n)
		})
	}
}
