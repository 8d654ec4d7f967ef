package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetMissingIsNil(t *testing.T) {
	s := NewMemoryStore()
	v, err := s.Get(context.Background(), "detention-storage")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemoryStore_PutCopiesValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	buf := []byte(`{"activeDetention":{}}`)
	require.NoError(t, s.Put(ctx, "k", buf))
	buf[0] = 'X'

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"activeDetention":{}}`, string(v))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()

	assert.ErrorIs(t, s.Put(ctx, "k", []byte("v")), context.Canceled)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
