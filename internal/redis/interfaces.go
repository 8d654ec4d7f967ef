package redis

import (
	"context"
	"time"

	"detention/internal/domain"
)

// StateStoreInterface defines the durable key-value operations on the snapshot.
type StateStoreInterface interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// FacilityStoreInterface defines the facility index operations.
type FacilityStoreInterface interface {
	Upsert(ctx context.Context, f domain.Facility) error
	Remove(ctx context.Context, facilityID string) error
	Candidates(ctx context.Context, loc domain.Location) ([]domain.Facility, error)
}

// ResponseCacheInterface defines the idempotent response cache operations.
type ResponseCacheInterface interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Ensure concrete types implement interfaces.
var (
	_ StateStoreInterface    = (*StateStore)(nil)
	_ FacilityStoreInterface = (*FacilityStore)(nil)
	_ ResponseCacheInterface = (*ResponseCache)(nil)
)
