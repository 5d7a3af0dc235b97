package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/testutil"
)

// createTestStore creates a new store in a temp dir with a fake clock
// starting at 1000 ms.
func createTestStore(t *testing.T, opts ...Option) (*Store, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(1000)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, append([]Option{WithClock(clk)}, opts...)...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

var (
	localSource = ir.SourceFrom("node-a", ir.SourceLocal, "")
	feedSource  = ir.SourceFrom("node-a", ir.SourceFeed, "peer-b")
)

// parsedFor builds a structured representation whose text content is text.
func parsedFor(typ, text string) []byte {
	return []byte(`<citation type="` + typ + `"><title>` + text + `</title></citation>`)
}

func mustUpsert(t *testing.T, s *Store, rec ir.Record) ir.WriteResult {
	t.Helper()
	res, err := s.Upsert(context.Background(), rec, localSource)
	require.NoError(t, err)
	return res
}

func mustGet(t *testing.T, s *Store, id string) ir.Record {
	t.Helper()
	rec, err := s.Lookup(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec, "record %s not found", id)
	return *rec
}

func historyLen(t *testing.T, s *Store, id string) int {
	t.Helper()
	h, err := s.History(context.Background(), id)
	require.NoError(t, err)
	return len(h)
}
