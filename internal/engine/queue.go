package engine

import "github.com/roach88/stringpool/internal/ir"

// pending is a feed entry waiting for a content fetch, with its position
// in the round's feed.
type pending struct {
	index int
	entry ir.FeedEntry
}

// fetchQueue is the FIFO of entries waiting for a content fetch. Entries
// leave in feed order, so batches are fetched oldest first.
//
// Owned by one cycle goroutine; not safe for concurrent use.
type fetchQueue struct {
	items []pending
}

func newFetchQueue() *fetchQueue {
	return &fetchQueue{items: make([]pending, 0, DefaultBatchSize)}
}

// Push adds an entry to the back of the queue.
func (q *fetchQueue) Push(index int, e ir.FeedEntry) {
	q.items = append(q.items, pending{index: index, entry: e})
}

// TakeBatch removes and returns up to n entries from the front.
func (q *fetchQueue) TakeBatch(n int) []pending {
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]pending, n)
	copy(batch, q.items[:n])

	// Clear the taken slots so the backing array does not pin them.
	clear(q.items[:n])
	if n == len(q.items) {
		q.items = q.items[:0]
	} else {
		q.items = q.items[n:]
	}
	return batch
}

// Len returns the number of queued entries.
func (q *fetchQueue) Len() int {
	return len(q.items)
}
