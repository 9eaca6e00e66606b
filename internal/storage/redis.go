package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection settings for the latest-state cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

const recentKey = "vessels:recent"

func latestKey(mmsi int64) string {
	return fmt.Sprintf("vessel:%d:latest", mmsi)
}

// LatestCache keeps the newest snapshot of each vessel in Redis, plus a
// sorted set of MMSIs scored by update time.
type LatestCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// OpenRedis connects to Redis and checks the connection.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*LatestCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewLatestCache(rdb, cfg.TTL), nil
}

// NewLatestCache wraps an existing client.
func NewLatestCache(rdb *redis.Client, ttl time.Duration) *LatestCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LatestCache{rdb: rdb, ttl: ttl}
}

func (c *LatestCache) Name() string { return "redis" }

// Mirror stores the merged snapshot.
func (c *LatestCache) Mirror(ctx context.Context, res UpsertResult) error {
	b, err := json.Marshal(res.Vessel)
	if err != nil {
		return fmt.Errorf("marshal vessel: %w", err)
	}
	mmsi := res.Vessel.MMSI
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, latestKey(mmsi), b, c.ttl)
		pipe.ZAdd(ctx, recentKey, redis.Z{
			Score:  float64(res.Vessel.UpdatedAt.Unix()),
			Member: strconv.FormatInt(mmsi, 10),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache vessel %d: %w", mmsi, err)
	}
	return nil
}

// Close closes the Redis client.
func (c *LatestCache) Close() error {
	return c.rdb.Close()
}
