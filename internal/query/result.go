package query

import (
	"context"
	"sync"

	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/store"
)

// Result is one record returned by the facade.
//
// The embedded Record never carries Parsed; use the Parsed method.
type Result struct {
	ir.Record

	store   *store.Store
	concise bool

	mu     sync.Mutex
	loaded bool
	parsed []byte
}

func newResult(st *store.Store, rec ir.Record, concise bool) *Result {
	rec.Parsed = nil
	return &Result{Record: rec, store: st, concise: concise}
}

// Concise reports whether the result was requested without structured
// representation.
func (r *Result) Concise() bool { return r.concise }

// Parsed returns the structured representation, loading it on first call.
// It returns nil for concise results and for records without one. A failed
// load is not cached.
func (r *Result) Parsed(ctx context.Context) ([]byte, error) {
	if r.concise || !r.HasParsed() {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.parsed, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := r.store.LoadParsed(&r.Record)
	if err != nil {
		return nil, err
	}
	r.parsed, r.loaded = data, true
	return data, nil
}

// Full returns the record with Parsed filled in, for encoding.
func (r *Result) Full(ctx context.Context) (ir.Record, error) {
	rec := r.Record
	parsed, err := r.Parsed(ctx)
	if err != nil {
		return rec, err
	}
	rec.Parsed = parsed
	return rec, nil
}
