package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/stats"
	"github.com/roach88/stringpool/internal/store"
	"github.com/roach88/stringpool/internal/testutil"
)

func TestSyncPeer_CopiesNewRecords(t *testing.T) {
	ctx := context.Background()
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	a := addRecord(t, remote, "Alpha Paper")
	b := addRecord(t, remote, "Beta Paper")
	c := addRecord(t, remote, "Gamma Paper")

	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer})

	report, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 1, report.Rounds)
	assert.Equal(t, 3, report.FeedEntries)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 3, report.Applied)
	assert.Equal(t, 1, peer.fetchCount())

	for _, want := range []ir.Record{a, b, c} {
		got := mustLookup(t, local, want.ID)
		require.NotNil(t, got, want.PlainText)
		assert.Equal(t, want.PlainText, got.PlainText)
		assert.Equal(t, want.ParseChecksum, got.ParseChecksum)
		assert.Equal(t, want.CreateTime, got.CreateTime)
		assert.Equal(t, want.UpdateTime, got.UpdateTime)
		assert.GreaterOrEqual(t, got.LocalUpdateTime, int64(50_000))

		history, err := local.History(ctx, want.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "FETCH:remote", history[0].SourceDescriptor)
	}

	entries := feedOf(t, remote)
	assert.Equal(t, entries[len(entries)-1].LocalUpdateTime, watermark(t, local, "remote"))
	assert.Equal(t, report.Watermark, watermark(t, local, "remote"))
}

func TestSyncPeer_EmptyFeed(t *testing.T) {
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 1000)
	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer})

	report, err := e.SyncPeer(context.Background(), peer)
	require.NoError(t, err)

	assert.Equal(t, 0, report.FeedEntries)
	assert.Equal(t, int64(0), report.Watermark)
	assert.Equal(t, 0, peer.fetchCount())
	assert.Equal(t, StateIdle, e.State("remote"))
}

func TestSyncPeer_MetadataChangeSkipsFetch(t *testing.T) {
	ctx := context.Background()
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	a := addRecord(t, remote, "Alpha Paper")
	addRecord(t, remote, "Beta Paper")

	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer})
	_, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)
	require.Equal(t, 1, peer.fetchCount())

	deleted := true
	_, err = remote.ApplySimpleUpdate(ctx, a.ID, store.SimpleUpdate{Deleted: &deleted}, localSource)
	require.NoError(t, err)

	report, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)

	assert.Equal(t, 1, report.FeedEntries)
	assert.Equal(t, 1, report.SimpleUpdates)
	assert.Equal(t, 0, report.Fetched)
	assert.Equal(t, 1, peer.fetchCount(), "checksum match must not fetch")

	got := mustLookup(t, local, a.ID)
	require.NotNil(t, got)
	assert.True(t, got.Deleted)

	history, err := local.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "FEED:remote", history[1].SourceDescriptor)
	assert.Equal(t, "sync", history[1].UpdateUser)
}

func TestSyncPeer_ContentChangeFetches(t *testing.T) {
	ctx := context.Background()
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	a := addRecord(t, remote, "Alpha Paper")

	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer})
	_, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)

	res, err := remote.Upsert(ctx, ir.Record{
		PlainText: "Alpha Paper",
		Parsed:    []byte(`<citation type="article"><title>Alpha Paper</title></citation>`),
	}, localSource)
	require.NoError(t, err)
	require.True(t, res.Updated)
	require.NotEqual(t, a.ParseChecksum, res.ParseChecksum)

	report, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 2, peer.fetchCount())

	got := mustLookup(t, local, a.ID)
	require.NotNil(t, got)
	assert.Equal(t, res.ParseChecksum, got.ParseChecksum)
}

func TestSyncPeer_SlackRereadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	a := addRecord(t, remote, "Alpha Paper")
	b := addRecord(t, remote, "Beta Paper")

	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer}, WithSlack(DefaultSlack))

	_, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)
	before := mustLookup(t, local, a.ID)

	report, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)

	assert.Equal(t, 2, report.FeedEntries, "slack window re-reads both entries")
	assert.Equal(t, 2, report.Ignored)
	assert.Equal(t, 0, report.SimpleUpdates)
	assert.Equal(t, 1, peer.fetchCount())

	after := mustLookup(t, local, a.ID)
	assert.Equal(t, before.LocalUpdateTime, after.LocalUpdateTime)

	history, err := local.History(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	feeds := peer.feeds
	require.Len(t, feeds, 2)
	assert.Equal(t, int64(0), feeds[0])
	assert.Equal(t, max(0, report.Since-DefaultSlack.Milliseconds()), feeds[1])
}

func TestSyncPeer_StaleEntryIgnored(t *testing.T) {
	ctx := context.Background()
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)

	_, err := local.Upsert(ctx, ir.Record{PlainText: "Alpha Paper", Parsed: parsedFor("Alpha Paper"), UpdateTime: 9_000_000}, localSource)
	require.NoError(t, err)
	_, err = remote.Upsert(ctx, ir.Record{
		PlainText:  "Alpha Paper",
		Parsed:     []byte(`<citation type="article"><title>Alpha Paper</title></citation>`),
		UpdateTime: 2000,
	}, localSource)
	require.NoError(t, err)

	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer})
	report, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Ignored)
	assert.Equal(t, 0, peer.fetchCount())
	id := local.Identity().IdentifierOf("Alpha Paper")
	got := mustLookup(t, local, id)
	assert.Equal(t, int64(9_000_000), got.UpdateTime)
	assert.Equal(t, "book", got.Type)
}

func TestSyncPeer_FailedBatchHoldsWatermark(t *testing.T) {
	ctx := context.Background()
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	for _, text := range []string{"One Paper", "Two Paper", "Three Paper", "Four Paper", "Five Paper"} {
		addRecord(t, remote, text)
	}
	entries := feedOf(t, remote)
	require.Len(t, entries, 5)

	peer := newStorePeer("remote", remote)
	peer.fetchErr = failContaining(entries[2].ID, errUnavailable)
	e := newTestEngine(t, local, []Peer{peer}, WithBatchSize(2))

	report, err := e.SyncPeer(ctx, peer)
	require.Error(t, err)

	state, ok := FailedState(err)
	require.True(t, ok)
	assert.Equal(t, StateFetchingBatch, state)
	assert.True(t, ir.IsRetryable(err))
	assert.ErrorIs(t, err, errUnavailable)

	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, entries[1].LocalUpdateTime, watermark(t, local, "remote"))
	assert.NotNil(t, mustLookup(t, local, entries[1].ID))
	assert.Nil(t, mustLookup(t, local, entries[2].ID))
	assert.Nil(t, mustLookup(t, local, entries[3].ID))
	assert.Equal(t, StateIdle, e.State("remote"))

	peer.mu.Lock()
	peer.fetchErr = nil
	peer.mu.Unlock()

	report, err = e.SyncPeer(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, 3, report.FeedEntries)
	assert.Equal(t, 3, report.Applied)
	for _, fe := range entries {
		assert.NotNil(t, mustLookup(t, local, fe.ID))
	}
	assert.Equal(t, entries[4].LocalUpdateTime, watermark(t, local, "remote"))
}

func TestSyncPeer_FeedErrorKeepsWatermark(t *testing.T) {
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 1000)
	addRecord(t, remote, "Alpha Paper")

	peer := newStorePeer("remote", remote)
	peer.feedErr = errUnavailable
	e := newTestEngine(t, local, []Peer{peer})

	report, err := e.SyncPeer(context.Background(), peer)
	require.Error(t, err)

	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "remote", ce.Peer)
	assert.Equal(t, report.RunID, ce.RunID)
	assert.Equal(t, StateFetchingFeed, ce.State)
	assert.Contains(t, err.Error(), "FETCHING_FEED")
	assert.Equal(t, int64(0), watermark(t, local, "remote"))
}

func TestSyncPeer_FeedCapRounds(t *testing.T) {
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	for _, text := range []string{"One Paper", "Two Paper", "Three Paper", "Four Paper", "Five Paper"} {
		addRecord(t, remote, text)
	}
	entries := feedOf(t, remote)

	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer}, WithFeedCap(2))

	report, err := e.SyncPeer(context.Background(), peer)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Rounds)
	assert.Equal(t, 5, report.FeedEntries)
	assert.Equal(t, 5, report.Applied)
	assert.Equal(t, []int64{0, entries[1].LocalUpdateTime, entries[3].LocalUpdateTime}, peer.feeds)
	assert.Equal(t, entries[4].LocalUpdateTime, report.Watermark)
}

// clampedPeer serves pages of at most max entries and flags the ones that
// stop short of the newest entry.
type clampedPeer struct {
	*storePeer
	max int
}

type clampedPage struct {
	ir.Iterator[ir.FeedEntry]
	truncated bool
}

func (p clampedPage) Truncated() bool { return p.truncated }

func (p *clampedPeer) Feed(ctx context.Context, since int64, limit int) (ir.Iterator[ir.FeedEntry], error) {
	it, err := p.storePeer.Feed(ctx, since, min(limit, p.max)+1)
	if err != nil {
		return nil, err
	}
	entries, err := ir.Collect(it)
	if err != nil {
		return nil, err
	}
	truncated := len(entries) > p.max
	if truncated {
		entries = entries[:p.max]
	}
	return clampedPage{Iterator: ir.NewSliceIterator(entries, nil), truncated: truncated}, nil
}

func TestSyncPeer_PeerClampedFeedRounds(t *testing.T) {
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	for _, text := range []string{"One Paper", "Two Paper", "Three Paper", "Four Paper", "Five Paper"} {
		addRecord(t, remote, text)
	}
	entries := feedOf(t, remote)

	peer := &clampedPeer{storePeer: newStorePeer("remote", remote), max: 2}
	e := newTestEngine(t, local, []Peer{peer}, WithFeedCap(100))

	report, err := e.SyncPeer(context.Background(), peer)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Rounds)
	assert.Equal(t, 5, report.Applied)
	assert.Equal(t, []int64{0, entries[1].LocalUpdateTime, entries[3].LocalUpdateTime}, peer.feeds)
	assert.Equal(t, entries[4].LocalUpdateTime, report.Watermark)
}

func TestSyncPeer_MaxRoundsExceeded(t *testing.T) {
	ctx := context.Background()
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	for _, text := range []string{"One Paper", "Two Paper", "Three Paper"} {
		addRecord(t, remote, text)
	}
	entries := feedOf(t, remote)

	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer}, WithFeedCap(1), WithMaxRounds(2))

	report, err := e.SyncPeer(ctx, peer)
	require.Error(t, err)
	assert.True(t, IsRoundsExceeded(err))
	state, _ := FailedState(err)
	assert.Equal(t, StateFetchingFeed, state)
	assert.Equal(t, 2, report.Rounds)
	assert.Equal(t, entries[1].LocalUpdateTime, watermark(t, local, "remote"))

	// The next cycle continues where the last one stopped.
	report, err = e.SyncPeer(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, entries[2].LocalUpdateTime, report.Watermark)
}

func TestSyncPeer_MalformedRecordSkipped(t *testing.T) {
	ctx := context.Background()
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	for _, text := range []string{"One Paper", "Two Paper", "Three Paper"} {
		addRecord(t, remote, text)
	}
	entries := feedOf(t, remote)
	bad := entries[1].ID

	peer := newStorePeer("remote", remote)
	peer.fetchErr = failContaining(bad, ir.NewDecodeError("codec.decode", "truncated record", nil))
	e := newTestEngine(t, local, []Peer{peer})

	report, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 4, peer.fetchCount(), "one batch request and three single fetches")
	assert.Nil(t, mustLookup(t, local, bad))
	assert.NotNil(t, mustLookup(t, local, entries[0].ID))
	assert.NotNil(t, mustLookup(t, local, entries[2].ID))
	assert.Equal(t, entries[2].LocalUpdateTime, report.Watermark)
}

func TestSyncPeer_InvalidRecordSkipped(t *testing.T) {
	ctx := context.Background()
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	addRecord(t, remote, "One Paper")
	addRecord(t, remote, "Two Paper")
	entries := feedOf(t, remote)
	tampered := entries[0].ID

	peer := newStorePeer("remote", remote)
	peer.transform = func(rec ir.Record) ir.Record {
		if rec.ID == tampered {
			rec.PlainText = "Something Else Entirely"
			rec.Parsed = nil
			rec.ParseChecksum = ""
		}
		return rec
	}
	e := newTestEngine(t, local, []Peer{peer})

	report, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Applied)
	assert.Nil(t, mustLookup(t, local, tampered))
	assert.Equal(t, entries[1].LocalUpdateTime, report.Watermark)
}

func TestSyncPeer_UnrequestedRecordsIgnored(t *testing.T) {
	ctx := context.Background()
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	a := addRecord(t, remote, "One Paper")
	extra := addRecord(t, remote, "Two Paper")

	peer := &chattyPeer{storePeer: newStorePeer("remote", remote), extra: extra.ID}
	e := newTestEngine(t, local, []Peer{peer})
	report, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)

	assert.Equal(t, 1, report.FeedEntries)
	assert.Equal(t, 1, report.Fetched)
	assert.NotNil(t, mustLookup(t, local, a.ID))
	assert.Nil(t, mustLookup(t, local, extra.ID))
}

// chattyPeer hides one record from its feed but adds it to every fetch.
type chattyPeer struct {
	*storePeer
	extra string
}

func (p *chattyPeer) Feed(ctx context.Context, since int64, limit int) (ir.Iterator[ir.FeedEntry], error) {
	it, err := p.storePeer.Feed(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	all, err := ir.Collect(it)
	if err != nil {
		return nil, err
	}
	var kept []ir.FeedEntry
	for _, fe := range all {
		if fe.ID != p.extra {
			kept = append(kept, fe)
		}
	}
	return ir.NewSliceIterator(kept, nil), nil
}

func (p *chattyPeer) Fetch(ctx context.Context, ids []string) (ir.Iterator[ir.Record], error) {
	return p.storePeer.Fetch(ctx, append(append([]string(nil), ids...), p.extra))
}

func ptr[T any](v T) *T { return &v }

func TestSyncPeer_DeleteConverges(t *testing.T) {
	ctx := context.Background()
	nodeA, _ := openStore(t, 1000)
	nodeB, _ := openStore(t, 100_000)
	rec := addRecord(t, nodeA, "Shared Paper")

	fromA := newStorePeer("a", nodeA)
	fromB := newStorePeer("b", nodeB)
	engA := newTestEngine(t, nodeA, []Peer{fromB})
	engB := newTestEngine(t, nodeB, []Peer{fromA})

	_, err := engB.SyncPeer(ctx, fromA)
	require.NoError(t, err)
	require.NotNil(t, mustLookup(t, nodeB, rec.ID))

	_, err = nodeA.ApplySimpleUpdate(ctx, rec.ID, store.SimpleUpdate{Deleted: ptr(true)}, localSource)
	require.NoError(t, err)
	_, err = engB.SyncPeer(ctx, fromA)
	require.NoError(t, err)
	assert.True(t, mustLookup(t, nodeB, rec.ID).Deleted)

	_, err = nodeB.ApplySimpleUpdate(ctx, rec.ID, store.SimpleUpdate{Deleted: ptr(false)}, localSource)
	require.NoError(t, err)
	_, err = engA.SyncPeer(ctx, fromB)
	require.NoError(t, err)
	assert.False(t, mustLookup(t, nodeA, rec.ID).Deleted)

	// Syncing back changes nothing further.
	report, err := engB.SyncPeer(ctx, fromA)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Applied)
	assert.Equal(t, 0, report.SimpleUpdates)
	assert.False(t, mustLookup(t, nodeB, rec.ID).Deleted)
}

func TestSyncPeer_ObserverSeesStates(t *testing.T) {
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	addRecord(t, remote, "Alpha Paper")

	var (
		mu     sync.Mutex
		states []State
	)
	observer := func(peer string, s State) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "remote", peer)
		states = append(states, s)
	}

	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer}, WithObserver(observer))
	_, err := e.SyncPeer(context.Background(), peer)
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateFetchingFeed,
		StateResolving,
		StateFetchingBatch,
		StateApplying,
		StateAdvanceWatermark,
		StateIdle,
	}, states)
}

func TestSyncPeer_Metrics(t *testing.T) {
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 50_000)
	addRecord(t, remote, "Alpha Paper")
	addRecord(t, remote, "Beta Paper")

	m := stats.NewMemory()
	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer}, WithMetrics(m))
	_, err := e.SyncPeer(context.Background(), peer)
	require.NoError(t, err)

	assert.Equal(t, int64(1), m.Get(stats.ReplicationCycles))
	assert.Equal(t, int64(0), m.Get(stats.ReplicationFailures))
	assert.Equal(t, int64(2), m.Get(stats.ReplicationFeedEntries))
	assert.Equal(t, int64(2), m.Get(stats.ReplicationApplied))

	peer.feedErr = errUnavailable
	_, err = e.SyncPeer(context.Background(), peer)
	require.Error(t, err)
	assert.Equal(t, int64(2), m.Get(stats.ReplicationCycles))
	assert.Equal(t, int64(1), m.Get(stats.ReplicationFailures))
}

func TestSyncPeer_ReportTimes(t *testing.T) {
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 1000)
	clk := testutil.NewFakeClock(7000)

	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer}, WithClock(clk), WithRunIDs(testutil.NewFixedRunIDs("fixed-run")))
	report, err := e.SyncPeer(context.Background(), peer)
	require.NoError(t, err)

	assert.Equal(t, "fixed-run", report.RunID)
	assert.Equal(t, int64(7000), report.StartedAt)
	assert.Equal(t, int64(7001), report.FinishedAt)
}

func TestSyncPeer_CancelledContext(t *testing.T) {
	remote, _ := openStore(t, 1000)
	local, _ := openStore(t, 1000)
	addRecord(t, remote, "Alpha Paper")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	peer := newStorePeer("remote", remote)
	e := newTestEngine(t, local, []Peer{peer})
	_, err := e.SyncPeer(ctx, peer)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ir.IsRetryable(err))
	assert.Equal(t, StateIdle, e.State("remote"))
}

func TestSafeWatermark(t *testing.T) {
	entries := []ir.FeedEntry{
		{ID: "A", LocalUpdateTime: 10},
		{ID: "B", LocalUpdateTime: 20},
		{ID: "C", LocalUpdateTime: 30},
	}

	tests := []struct {
		name     string
		resolved []bool
		floor    int64
		want     int64
	}{
		{"all resolved", []bool{true, true, true}, 0, 30},
		{"first unresolved", []bool{false, true, true}, 0, 0},
		{"middle unresolved", []bool{true, false, true}, 0, 10},
		{"last unresolved", []bool{true, true, false}, 0, 20},
		{"floor wins", []bool{false, true, true}, 15, 15},
		{"nothing resolved keeps floor", []bool{false, false, false}, 5, 5},
		{"floor above prefix", []bool{true, false, false}, 25, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, safeWatermark(entries, tt.resolved, tt.floor))
		})
	}

	t.Run("same time as unresolved entry", func(t *testing.T) {
		tied := []ir.FeedEntry{
			{ID: "A", LocalUpdateTime: 10},
			{ID: "B", LocalUpdateTime: 10},
		}
		assert.Equal(t, int64(9), safeWatermark(tied, []bool{true, false}, 0))
	})
}

func TestPause(t *testing.T) {
	require.NoError(t, pause(context.Background(), 0))
	require.NoError(t, pause(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pause(ctx, time.Hour), context.Canceled)
}

func TestSyncPeer_LocalPeer(t *testing.T) {
	ctx := context.Background()
	remote, _ := openStore(t, 1000)
	rec := addRecord(t, remote, "Alpha Paper")

	local, _ := openStore(t, 50_000)
	peer := NewLocalPeer("remote", remote)
	assert.Equal(t, "remote", peer.Name())

	e := newTestEngine(t, local, []Peer{peer})
	report, err := e.SyncPeer(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	got := mustLookup(t, local, rec.ID)
	assert.Equal(t, rec.UpdateTime, got.UpdateTime)
	assert.Equal(t, rec.ParseChecksum, got.ParseChecksum)
}
