package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseCache keeps replayable HTTP responses for idempotent requests.
type ResponseCache struct {
	client redis.Cmdable
}

// NewResponseCache creates a new ResponseCache.
func NewResponseCache(client redis.Cmdable) *ResponseCache {
	return &ResponseCache{client: client}
}

// Get returns the cached response, or nil on a miss.
func (s *ResponseCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}
	return data, nil
}

// Set stores a response for ttl.
func (s *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}
