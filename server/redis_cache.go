package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache implements the Cache interface using Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(ctx context.Context, address string, ttlSeconds int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        address,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})

	// Test connection with the provided context
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisCache{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}, nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetRecord gets a file record from the cache
func (c *RedisCache) GetRecord(ctx context.Context, id string) (*FileRecord, error) {
	data, err := c.client.Get(ctx, recordCacheKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var record FileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}

	return &record, nil
}

// SetRecord sets a file record in the cache
func (c *RedisCache) SetRecord(ctx context.Context, record *FileRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, recordCacheKey(record.ID), data, c.ttl).Err()
}

// DeleteRecord deletes a file record from the cache
func (c *RedisCache) DeleteRecord(ctx context.Context, id string) error {
	return c.client.Del(ctx, recordCacheKey(id)).Err()
}

func recordCacheKey(id string) string {
	return fmt.Sprintf("file:%s", id)
}
