package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// ResponseCache keeps replayable HTTP responses in process memory.
type ResponseCache struct {
	cache *cache.Cache
}

// NewResponseCache creates a ResponseCache whose expired entries are purged
// every cleanup interval.
func NewResponseCache(cleanup time.Duration) *ResponseCache {
	return &ResponseCache{cache: cache.New(cache.NoExpiration, cleanup)}
}

// Get returns the cached response, or nil on a miss.
func (s *ResponseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v.([]byte)...), nil
}

// Set stores a response for ttl.
func (s *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}
