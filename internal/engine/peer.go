package engine

import (
	"context"

	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/store"
)

// Peer is a remote pool this node pulls from.
//
// Iterators returned by Feed and Fetch stay valid while ctx is alive; the
// engine closes them before cancelling ctx.
type Peer interface {
	// Name identifies the peer in watermarks, history and logs.
	Name() string

	// Feed returns change entries with a local update time after since,
	// oldest first, at most limit of them.
	Feed(ctx context.Context, since int64, limit int) (ir.Iterator[ir.FeedEntry], error)

	// Fetch returns the full records for ids. Absent ids are skipped.
	Fetch(ctx context.Context, ids []string) (ir.Iterator[ir.Record], error)
}

// LocalPeer serves another store in the same process, for replicating
// from a database file or between nodes of a test cluster.
type LocalPeer struct {
	name  string
	store *store.Store
}

// TruncatedFeed is implemented by feed iterators whose peer reports that
// the page stops short of its newest entry. Such a page is followed up at
// once, whatever its length.
type TruncatedFeed interface {
	Truncated() bool
}

// NewLocalPeer returns a peer named name reading st.
func NewLocalPeer(name string, st *store.Store) *LocalPeer {
	return &LocalPeer{name: name, store: st}
}

// Name implements Peer.
func (p *LocalPeer) Name() string { return p.name }

// Feed implements Peer.
func (p *LocalPeer) Feed(ctx context.Context, since int64, limit int) (ir.Iterator[ir.FeedEntry], error) {
	return p.store.FeedSince(ctx, since, limit), nil
}

// Fetch implements Peer.
func (p *LocalPeer) Fetch(ctx context.Context, ids []string) (ir.Iterator[ir.Record], error) {
	return p.store.Get(ctx, ids...), nil
}
