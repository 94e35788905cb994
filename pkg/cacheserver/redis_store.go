package cacheserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces server items in Redis.
const RedisKeyPrefix = "rendercache:item:"

// redisItem is the JSON form of an Item in Redis.
type redisItem struct {
	Value   string    `json:"value"`
	Written time.Time `json:"written"`
}

// RedisItemStore stores items in Redis.
type RedisItemStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisItemStore creates a Redis item store. Items expire after ttl;
// zero keeps them until evicted by Redis.
func NewRedisItemStore(redisClient *redis.Client, ttl time.Duration) *RedisItemStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisItemStore{redis: redisClient, ttl: ttl}
}

// GetItems implements ItemStore with a single MGET.
func (s *RedisItemStore) GetItems(ctx context.Context, keys []string) (map[string]Item, error) {
	items := make(map[string]Item, len(keys))
	if len(keys) == 0 {
		return items, nil
	}

	redisKeys := make([]string, len(keys))
	for i, key := range keys {
		redisKeys[i] = RedisKeyPrefix + key
	}

	values, err := s.redis.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var stored redisItem
		if err := json.Unmarshal([]byte(str), &stored); err != nil {
			return nil, fmt.Errorf("decode item %s: %w", keys[i], err)
		}
		items[keys[i]] = Item{Value: stored.Value, Written: stored.Written}
	}
	return items, nil
}

// SetItems implements ItemStore with one pipelined round trip.
func (s *RedisItemStore) SetItems(ctx context.Context, items map[string]Item) error {
	if len(items) == 0 {
		return nil
	}

	pipe := s.redis.Pipeline()
	for key, item := range items {
		data, err := json.Marshal(redisItem{Value: item.Value, Written: item.Written})
		if err != nil {
			return fmt.Errorf("encode item %s: %w", key, err)
		}
		pipe.Set(ctx, RedisKeyPrefix+key, data, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Ping implements ItemStore.
func (s *RedisItemStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisItemStore) Close() error {
	return s.redis.Close()
}
