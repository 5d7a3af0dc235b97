package config

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/stringpool/internal/blob"
	"github.com/roach88/stringpool/internal/engine"
	"github.com/roach88/stringpool/internal/httpapi"
	"github.com/roach88/stringpool/internal/ident"
	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/stats"
	"github.com/roach88/stringpool/internal/store"
)

// Identity returns the identity engine selected by hash and cluster.
func (c *Config) Identity() (*ident.Engine, error) {
	return ident.New(ident.Config{
		Algorithm: ident.Algorithm(c.Hash),
		Cluster:   ident.ClusterMode(c.Cluster),
	})
}

// OpenStore opens the node's store with its identity, blob area and index
// columns.
func (c *Config) OpenStore(extra ...store.Option) (*store.Store, error) {
	id, err := c.Identity()
	if err != nil {
		return nil, err
	}
	comp, err := blob.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	opts := []store.Option{store.WithIdentity(id), store.WithCompression(comp)}
	if c.BlobDir != "" {
		blobs, err := blob.Open(c.BlobDir, comp)
		if err != nil {
			return nil, err
		}
		opts = append(opts, store.WithBlobStore(blobs))
	}
	if len(c.Indexes) > 0 {
		specs := make([]store.IndexSpec, len(c.Indexes))
		for i, ix := range c.Indexes {
			specs[i] = store.IndexSpec{Name: ix.Name, CaseSensitive: ix.CaseSensitive}
		}
		opts = append(opts, store.WithIndexes(specs...))
	}
	return store.Open(c.Database, append(opts, extra...)...)
}

// Actor is the identity replication writes are attributed to.
func (c *Config) Actor() ir.Actor {
	return ir.Actor{Domain: c.Domain, User: "replication"}
}

// Clients returns an HTTP client per configured peer.
func (c *Config) Clients() ([]*httpapi.Client, error) {
	out := make([]*httpapi.Client, 0, len(c.Peers))
	for _, p := range c.Peers {
		cl, err := httpapi.NewClient(p.Name, p.URL,
			httpapi.WithInterval(p.Interval.Std()),
			httpapi.WithActor(ir.Actor{Domain: c.Domain}))
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", p.Name, err)
		}
		out = append(out, cl)
	}
	return out, nil
}

// EngineOptions translates the replication section. Zero values are left
// to the engine defaults.
func (c *Config) EngineOptions() []engine.Option {
	r := c.Replication
	opts := []engine.Option{engine.WithActor(c.Actor())}
	if r.BatchSize > 0 {
		opts = append(opts, engine.WithBatchSize(r.BatchSize))
	}
	if r.FeedCap > 0 {
		opts = append(opts, engine.WithFeedCap(r.FeedCap))
	}
	if r.MaxRounds > 0 {
		opts = append(opts, engine.WithMaxRounds(r.MaxRounds))
	}
	if r.Slack > 0 {
		opts = append(opts, engine.WithSlack(r.Slack.Std()))
	}
	if r.Throttle > 0 {
		opts = append(opts, engine.WithThrottle(r.Throttle.Std()))
	}
	if r.RequestTimeout > 0 {
		opts = append(opts, engine.WithRequestTimeout(r.RequestTimeout.Std()))
	}
	if r.Interval > 0 {
		opts = append(opts, engine.WithInterval(r.Interval.Std()))
	}
	return opts
}

// Metrics returns the Redis sink when configured, otherwise an in-memory
// one. The returned close function releases the Redis connection.
func (c *Config) Metrics() (stats.Sink, func() error, error) {
	if c.Redis == nil {
		return stats.NewMemory(), func() error { return nil }, nil
	}
	sink, err := stats.NewRedis(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}, c.Redis.Namespace)
	if err != nil {
		return nil, nil, err
	}
	return sink, sink.Close, nil
}
