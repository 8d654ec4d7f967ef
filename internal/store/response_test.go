package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCache_MissThenHit(t *testing.T) {
	c := NewResponseCache(0)
	ctx := context.Background()

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Set(ctx, "k", []byte(`{"ok":true}`), time.Hour))
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(got))
}

func TestResponseCache_Expires(t *testing.T) {
	c := NewResponseCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResponseCache_CopiesValues(t *testing.T) {
	c := NewResponseCache(0)
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", value, time.Hour))
	value[0] = 'x'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestResponseCache_CancelledContext(t *testing.T) {
	c := NewResponseCache(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, time.Hour), context.Canceled)
}
