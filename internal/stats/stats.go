// Package stats counts pool operations.
//
// Counters are named with dotted lowercase paths ("api.get",
// "replication.fetched"). A Sink is safe for concurrent use; a failing Sink
// never fails the operation it counts.
package stats

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Counter names used across the pool.
const (
	APIGet          = "api.get"
	APIGetLinked    = "api.get_linked"
	APISearch       = "api.search"
	APICount        = "api.count"
	APIClusterCount = "api.cluster_count"
	APIUpload       = "api.upload"
	APIUpdate       = "api.update"
	APIFeed         = "api.feed"
	APIErrors       = "api.errors"

	RecordsCreated = "records.created"
	RecordsUpdated = "records.updated"
	ParseErrors    = "records.parse_errors"

	ReplicationCycles        = "replication.cycles"
	ReplicationFailures      = "replication.failures"
	ReplicationFeedEntries   = "replication.feed_entries"
	ReplicationFetched       = "replication.fetched"
	ReplicationApplied       = "replication.applied"
	ReplicationSimpleUpdates = "replication.simple_updates"
	ReplicationSkipped       = "replication.skipped"
)

// Sink receives counter increments.
type Sink interface {
	Incr(ctx context.Context, name string, n int64)
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Incr(context.Context, string, int64) {}

func (discard) Snapshot(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

// Memory keeps counters in process memory.
type Memory struct {
	counters sync.Map // string -> *atomic.Int64
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Incr adds n to the named counter.
func (m *Memory) Incr(_ context.Context, name string, n int64) {
	v, ok := m.counters.Load(name)
	if !ok {
		v, _ = m.counters.LoadOrStore(name, new(atomic.Int64))
	}
	v.(*atomic.Int64).Add(n)
}

// Get returns one counter.
func (m *Memory) Get(name string) int64 {
	v, ok := m.counters.Load(name)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Snapshot returns a copy of all counters.
func (m *Memory) Snapshot(context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	m.counters.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out, nil
}

// Names returns the sorted counter names of a snapshot.
func Names(snapshot map[string]int64) []string {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
