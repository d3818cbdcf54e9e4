package jobs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers keys for a while.  First reports whether key was seen
// for the first time.
type Deduper interface {
	First(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisDeduper claims keys with SET NX so reminders stay single across API
// replicas.
type RedisDeduper struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisDeduper returns nil when rdb is nil so callers can pass the
// result straight to NewRunner.
func NewRedisDeduper(rdb *redis.Client, prefix string) Deduper {
	if rdb == nil {
		return nil
	}
	return &RedisDeduper{rdb: rdb, prefix: prefix}
}

func (d *RedisDeduper) First(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.rdb.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

type noDedupe struct{}

func (noDedupe) First(context.Context, string, time.Duration) (bool, error) { return true, nil }
