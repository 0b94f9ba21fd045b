package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gharti/bike-market/internal/config"
	"github.com/gharti/bike-market/internal/models"
)

// BicycleCache is a read-through cache for bicycle snapshots backing the
// public listing endpoints. A nil *BicycleCache is valid and disables
// caching, so callers never branch on configuration.
type BicycleCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New returns nil (cache disabled) when no Redis address is configured.
func New(cfg *config.CacheConfig) (*BicycleCache, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &BicycleCache{rdb: rdb, ttl: cfg.BicycleTTL}, nil
}

func key(id int64) string {
	return fmt.Sprintf("bicycle:%d", id)
}

func (c *BicycleCache) Get(ctx context.Context, id int64) (*models.Bicycle, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, key(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("cache: get bicycle %d: %v", id, err)
		}
		return nil, false
	}

	var b models.Bicycle
	if err := json.Unmarshal(data, &b); err != nil {
		log.Printf("cache: decode bicycle %d: %v", id, err)
		return nil, false
	}
	return &b, true
}

func (c *BicycleCache) Set(ctx context.Context, b *models.Bicycle) {
	if c == nil {
		return
	}

	data, err := json.Marshal(b)
	if err != nil {
		log.Printf("cache: encode bicycle %d: %v", b.ID, err)
		return
	}
	if err := c.rdb.Set(ctx, key(b.ID), data, c.ttl).Err(); err != nil {
		log.Printf("cache: set bicycle %d: %v", b.ID, err)
	}
}

// Invalidate drops cached snapshots after a status transition commits.
// Best effort: a failed delete only means a stale read until TTL.
func (c *BicycleCache) Invalidate(ctx context.Context, ids ...int64) {
	if c == nil || len(ids) == 0 {
		return
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Printf("cache: invalidate %v: %v", ids, err)
	}
}

func (c *BicycleCache) Close() {
	if c == nil {
		return
	}
	if err := c.rdb.Close(); err != nil {
		log.Printf("cache: close: %v", err)
	}
}
