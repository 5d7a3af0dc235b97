package ir

// Iterator is a pull-style sequence of values.
//
// Usage:
//
//	it := st.Get(ctx, ids...)
//	defer it.Close()
//	for it.Next() {
//	    rec := it.Value()
//	}
//	if err := it.Err(); err != nil { ... }
//
// Next advances and reports whether a value is available. Err reports the
// error that ended iteration early, if any, and is only meaningful once Next
// has returned false. Close releases resources and may be called at any
// time, more than once.
type Iterator[T any] interface {
	Next() bool
	Value() T
	Err() error
	Close() error
}

// SliceIterator iterates over an in-memory slice.
type SliceIterator[T any] struct {
	items []T
	pos   int
	err   error
}

// NewSliceIterator returns an iterator over items. A non-nil err is
// reported by Err after all items were consumed.
func NewSliceIterator[T any](items []T, err error) *SliceIterator[T] {
	return &SliceIterator[T]{items: items, pos: -1, err: err}
}

// Next implements Iterator.
func (it *SliceIterator[T]) Next() bool {
	if it.pos+1 >= len(it.items) {
		it.pos = len(it.items)
		return false
	}
	it.pos++
	return true
}

// Value implements Iterator.
func (it *SliceIterator[T]) Value() T {
	if it.pos < 0 || it.pos >= len(it.items) {
		var zero T
		return zero
	}
	return it.items[it.pos]
}

// Err implements Iterator.
func (it *SliceIterator[T]) Err() error {
	if it.pos < len(it.items) {
		return nil
	}
	return it.err
}

// Close implements Iterator.
func (it *SliceIterator[T]) Close() error {
	it.pos = len(it.items)
	return nil
}

// Collect drains an iterator into a slice and closes it. The returned
// slice holds everything yielded before a failure, so callers can use
// partial results together with the error.
func Collect[T any](it Iterator[T]) ([]T, error) {
	defer it.Close()
	out := []T{}
	for it.Next() {
		out = append(out, it.Value())
	}
	return out, it.Err()
}
