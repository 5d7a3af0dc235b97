package query

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roach88/stringpool/internal/codec"
	"github.com/roach88/stringpool/internal/ident"
	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/queryir"
	"github.com/roach88/stringpool/internal/stats"
	"github.com/roach88/stringpool/internal/store"
)

// DefaultUser is recorded when a client does not name itself.
const DefaultUser = "Anonymous"

// Facade is the client-facing API of a node.
type Facade struct {
	store   *store.Store
	metrics stats.Sink
	domain  string
}

// Option configures a Facade.
type Option func(*Facade)

// WithMetrics sets the stats sink. Defaults to stats.Discard.
func WithMetrics(s stats.Sink) Option {
	return func(f *Facade) { f.metrics = s }
}

// WithDomain sets this node's domain, used when an actor names none.
func WithDomain(domain string) Option {
	return func(f *Facade) { f.domain = domain }
}

// New creates a facade over st.
func New(st *store.Store, opts ...Option) *Facade {
	f := &Facade{store: st, metrics: stats.Discard}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Store returns the underlying store.
func (f *Facade) Store() *store.Store { return f.store }

// Metrics returns the stats sink.
func (f *Facade) Metrics() stats.Sink { return f.metrics }

// Get returns the records with the given ids in request order. Unknown ids
// are skipped.
func (f *Facade) Get(ctx context.Context, ids []string, concise bool) ([]*Result, error) {
	f.metrics.Incr(ctx, stats.APIGet, 1)
	return f.collect(ctx, f.store.GetConcise(ctx, ids...), concise)
}

// GetLinked returns the cluster of id: every record sharing its canonical
// id, oldest first. An unknown id yields no results.
func (f *Facade) GetLinked(ctx context.Context, id string, concise bool) ([]*Result, error) {
	f.metrics.Incr(ctx, stats.APIGetLinked, 1)
	rec, err := f.store.Lookup(ctx, id)
	if err != nil {
		return nil, f.fail(ctx, err)
	}
	if rec == nil {
		return []*Result{}, nil
	}
	return f.collect(ctx, f.store.GetByCanonical(ctx, rec.Canonical(), true), concise)
}

// SearchParams are the parameters of a search request.
type SearchParams struct {
	// Text predicates on the plain text, all required unless Disjunctive.
	Text        []string
	Disjunctive bool

	Type string
	User string

	// Details are index column or "ID-<type>" identifier predicates.
	Details map[string]string

	Limit             int
	SelfCanonicalOnly bool
	Concise           bool
}

// Search runs a search. A request without any usable predicate is a
// VALIDATION error.
func (f *Facade) Search(ctx context.Context, p SearchParams) ([]*Result, error) {
	f.metrics.Incr(ctx, stats.APISearch, 1)
	find := queryir.Find{
		Text:              p.Text,
		Disjunctive:       p.Disjunctive,
		Type:              strings.TrimSpace(p.Type),
		User:              strings.TrimSpace(p.User),
		Details:           p.Details,
		SelfCanonicalOnly: p.SelfCanonicalOnly,
		Limit:             p.Limit,
		Concise:           true,
	}
	return f.collect(ctx, f.store.Find(ctx, find), p.Concise)
}

// Count returns the number of records created after since.
func (f *Facade) Count(ctx context.Context, since int64) (int64, error) {
	f.metrics.Incr(ctx, stats.APICount, 1)
	n, err := f.store.Count(ctx, since)
	if err != nil {
		return 0, f.fail(ctx, err)
	}
	return n, nil
}

// ClusterCount returns the number of distinct clusters.
func (f *Facade) ClusterCount(ctx context.Context) (int64, error) {
	f.metrics.Incr(ctx, stats.APIClusterCount, 1)
	n, err := f.store.ClusterCount(ctx)
	if err != nil {
		return 0, f.fail(ctx, err)
	}
	return n, nil
}

// Feed returns change entries after since, oldest first.
func (f *Facade) Feed(ctx context.Context, since int64, limit int) ir.Iterator[ir.FeedEntry] {
	f.metrics.Incr(ctx, stats.APIFeed, 1)
	return f.store.FeedSince(ctx, since, limit)
}

// UploadItem is one string submitted by a client.
type UploadItem struct {
	PlainText   string
	Parsed      []byte
	CanonicalID string
}

// UploadResult is the outcome of one upload item. Err is set when the item
// was rejected; the embedded result then only carries what is known about
// the item.
type UploadResult struct {
	ir.WriteResult
	Err error `json:"-"`
}

// Upload stores items on behalf of actor. Every item gets a result, in
// order; a failing item does not stop the others. detail names the client
// in history entries.
func (f *Facade) Upload(ctx context.Context, items []UploadItem, actor ir.Actor, detail string) []UploadResult {
	f.metrics.Incr(ctx, stats.APIUpload, 1)
	actor = f.actor(actor)
	src := ir.SourceFrom(actor.Domain, ir.SourceUpload, detail)

	results := make([]UploadResult, len(items))
	var created, updated int64
	for i, item := range items {
		results[i] = f.uploadOne(ctx, item, actor, src)
		switch {
		case results[i].Err != nil:
			f.metrics.Incr(ctx, stats.APIErrors, 1)
		case results[i].Created:
			created++
		case results[i].Updated:
			updated++
		}
	}
	if created > 0 {
		f.metrics.Incr(ctx, stats.RecordsCreated, created)
	}
	if updated > 0 {
		f.metrics.Incr(ctx, stats.RecordsUpdated, updated)
	}
	slog.Info("upload processed",
		"items", len(items),
		"created", created,
		"updated", updated,
		"user", actor.User,
		"source", src.Descriptor)
	return results
}

func (f *Facade) uploadOne(ctx context.Context, item UploadItem, actor ir.Actor, src ir.Source) UploadResult {
	rec := ir.Record{
		PlainText:    item.PlainText,
		CanonicalID:  item.CanonicalID,
		CreateDomain: actor.Domain,
		CreateUser:   actor.User,
		UpdateDomain: actor.Domain,
		UpdateUser:   actor.User,
	}
	if len(item.Parsed) > 0 {
		rec.Parsed = item.Parsed
		if canon, err := codec.Reserialize(item.Parsed); err == nil {
			rec.Parsed = canon
		}
	}

	res, err := f.store.Upsert(ctx, rec, src)
	if err != nil {
		failed := UploadResult{Err: err}
		failed.PlainText = ident.Normalize(item.PlainText)
		if failed.PlainText != "" {
			failed.ID = f.store.Identity().IdentifierOf(failed.PlainText)
		}
		slog.Warn("upload item rejected", "id", failed.ID, "error", err)
		return failed
	}
	res.Parsed = nil
	return UploadResult{WriteResult: res}
}

// Update changes the canonical id and/or deleted flag of id on behalf of
// actor. Returns nil, nil when id is unknown.
func (f *Facade) Update(ctx context.Context, id string, canonicalID *string, deleted *bool, actor ir.Actor, detail string) (*ir.Record, error) {
	f.metrics.Incr(ctx, stats.APIUpdate, 1)
	actor = f.actor(actor)
	rec, err := f.store.ApplySimpleUpdate(ctx, id, store.SimpleUpdate{
		CanonicalID: canonicalID,
		Deleted:     deleted,
		Actor:       actor,
	}, ir.SourceFrom(actor.Domain, ir.SourceUpdate, detail))
	if err != nil {
		return nil, f.fail(ctx, err)
	}
	return rec, nil
}

func (f *Facade) actor(a ir.Actor) ir.Actor {
	if a.Domain == "" {
		a.Domain = f.domain
	}
	if a.User == "" {
		a.User = DefaultUser
	}
	return a
}

func (f *Facade) collect(ctx context.Context, it ir.Iterator[ir.Record], concise bool) ([]*Result, error) {
	recs, err := ir.Collect(it)
	if err != nil {
		return nil, f.fail(ctx, err)
	}
	out := make([]*Result, len(recs))
	for i, rec := range recs {
		out[i] = newResult(f.store, rec, concise)
	}
	return out, nil
}

// fail counts an error and makes sure it carries a kind.
func (f *Facade) fail(ctx context.Context, err error) error {
	f.metrics.Incr(ctx, stats.APIErrors, 1)
	return ir.Transient("query", err)
}
