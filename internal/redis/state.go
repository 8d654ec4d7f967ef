package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "detention:state:"

// StateStore keeps the durable session snapshot in Redis. The value is an
// opaque JSON document owned by the caller.
type StateStore struct {
	client redis.Cmdable
}

// NewStateStore creates a new StateStore.
func NewStateStore(client redis.Cmdable) *StateStore {
	return &StateStore{client: client}
}

// Get returns the stored document, or nil when the key has never been written.
func (s *StateStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, stateKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Put overwrites the document. Snapshots never expire.
func (s *StateStore) Put(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, stateKeyPrefix+key, value, 0).Err()
}

