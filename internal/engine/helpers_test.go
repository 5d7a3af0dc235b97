package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/store"
	"github.com/roach88/stringpool/internal/testutil"
)

var localSource = ir.SourceFrom("test", ir.SourceLocal, "")

// openStore opens a store in a temp dir with a fake clock.
func openStore(t *testing.T, start int64) (*store.Store, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(start)
	st, err := store.Open(filepath.Join(t.TempDir(), "pool.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, clk
}

// newTestEngine builds an engine without throttling or slack.
func newTestEngine(t *testing.T, st *store.Store, peers []Peer, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithThrottle(0),
		WithSlack(0),
		WithRunIDs(testutil.NewSequentialRunIDs("run")),
		WithActor(ir.Actor{Domain: "local", User: "sync"}),
	}
	e, err := New(st, peers, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func parsedFor(text string) []byte {
	return []byte(`<citation type="book"><title>` + text + `</title></citation>`)
}

func addRecord(t *testing.T, st *store.Store, text string) ir.Record {
	t.Helper()
	res, err := st.Upsert(context.Background(), ir.Record{PlainText: text, Parsed: parsedFor(text)}, localSource)
	require.NoError(t, err)
	return res.Record
}

func mustLookup(t *testing.T, st *store.Store, id string) *ir.Record {
	t.Helper()
	rec, err := st.Lookup(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func feedOf(t *testing.T, st *store.Store) []ir.FeedEntry {
	t.Helper()
	entries, err := ir.Collect(st.FeedSince(context.Background(), 0, 0))
	require.NoError(t, err)
	return entries
}

func watermark(t *testing.T, st *store.Store, peer string) int64 {
	t.Helper()
	w, err := st.Watermark(context.Background(), peer)
	require.NoError(t, err)
	return w
}

// storePeer serves another store's feed and records in process. Hooks
// inject failures; every fetch request is recorded.
type storePeer struct {
	name string
	st   *store.Store

	mu        sync.Mutex
	fetches   [][]string
	feeds     []int64
	feedErr   error
	fetchErr  func(ids []string) error
	transform func(rec ir.Record) ir.Record
}

func newStorePeer(name string, st *store.Store) *storePeer {
	return &storePeer{name: name, st: st}
}

func (p *storePeer) Name() string { return p.name }

func (p *storePeer) Feed(ctx context.Context, since int64, limit int) (ir.Iterator[ir.FeedEntry], error) {
	p.mu.Lock()
	p.feeds = append(p.feeds, since)
	err := p.feedErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.st.FeedSince(ctx, since, limit), nil
}

func (p *storePeer) Fetch(ctx context.Context, ids []string) (ir.Iterator[ir.Record], error) {
	p.mu.Lock()
	p.fetches = append(p.fetches, append([]string(nil), ids...))
	fail, transform := p.fetchErr, p.transform
	p.mu.Unlock()
	if fail != nil {
		if err := fail(ids); err != nil {
			return nil, err
		}
	}
	recs, err := ir.Collect(p.st.Get(ctx, ids...))
	if err != nil {
		return nil, err
	}
	if transform != nil {
		for i := range recs {
			recs[i] = transform(recs[i])
		}
	}
	return ir.NewSliceIterator(recs, nil), nil
}

func (p *storePeer) fetchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fetches)
}

func (p *storePeer) fetchedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, f := range p.fetches {
		ids = append(ids, f...)
	}
	return ids
}

// failContaining fails every fetch whose ids include id.
func failContaining(id string, err error) func([]string) error {
	return func(ids []string) error {
		for _, x := range ids {
			if x == id {
				return err
			}
		}
		return nil
	}
}

var errUnavailable = errors.New("connection refused")
