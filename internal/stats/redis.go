package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis keeps counters in a Redis hash so that several processes of one
// deployment report shared totals.
type Redis struct {
	rdb *redis.Client
	key string
}

// NewRedis creates a sink writing to the hash "<namespace>:stats".
func NewRedis(opts *redis.Options, namespace string) (*Redis, error) {
	if namespace == "" {
		return nil, fmt.Errorf("stats namespace cannot be empty")
	}
	return &Redis{
		rdb: redis.NewClient(opts),
		key: namespace + ":stats",
	}, nil
}

// Key returns the Redis hash holding the counters.
func (r *Redis) Key() string { return r.key }

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Incr adds n to the named counter. Failures are logged and dropped.
func (r *Redis) Incr(ctx context.Context, name string, n int64) {
	if err := r.rdb.HIncrBy(ctx, r.key, name, n).Err(); err != nil {
		slog.Warn("stats increment failed", "counter", name, "error", err)
	}
}

// Snapshot returns all counters.
func (r *Redis) Snapshot(ctx context.Context) (map[string]int64, error) {
	raw, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.key, err)
	}
	out := make(map[string]int64, len(raw))
	for name, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", name, err)
		}
		out[name] = n
	}
	return out, nil
}
