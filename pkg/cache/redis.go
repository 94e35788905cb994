package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// RedisKeyPrefix namespaces fetch cache entries in Redis.
	RedisKeyPrefix = "rendercache:fetch:"

	// DefaultStaleWindow is how long an entry outlives its revalidate window
	// in Redis, so stale-while-revalidate still has something to serve.
	DefaultStaleWindow = 24 * time.Hour
)

// RedisHandler is a Handler storing entries directly in Redis, bypassing the
// HTTP contract.
type RedisHandler struct {
	redis       *redis.Client
	staleWindow time.Duration
	now         func() time.Time
}

// NewRedisHandler creates a Redis backed handler.
func NewRedisHandler(redisClient *redis.Client) *RedisHandler {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisHandler{
		redis:       redisClient,
		staleWindow: DefaultStaleWindow,
		now:         time.Now,
	}
}

// WithStaleWindow sets how long entries are kept past their revalidate window.
func (h *RedisHandler) WithStaleWindow(d time.Duration) *RedisHandler {
	h.staleWindow = d
	return h
}

// Get retrieves an entry by key.
// Returns ErrCacheMiss if the key doesn't exist.
func (h *RedisHandler) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := h.redis.Get(ctx, RedisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if entry.Value == nil || entry.Value.Kind != KindFetch {
		return nil, fmt.Errorf("%w: not a fetch entry", ErrInvalidEntry)
	}

	return &entry, nil
}

// Set stores value with a TTL of its revalidate window plus the stale window.
func (h *RedisHandler) Set(ctx context.Context, key string, value *Value) error {
	if err := value.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(&Entry{Value: value, LastModified: h.now()})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	ttl := time.Duration(value.Revalidate)*time.Second + h.staleWindow
	if err := h.redis.Set(ctx, RedisKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes an entry.
func (h *RedisHandler) Delete(ctx context.Context, key string) error {
	if err := h.redis.Del(ctx, RedisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
