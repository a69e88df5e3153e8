package inbound

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockIsExclusiveAndOwned(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()
	a := NewLock(client, time.Minute)
	b := NewLock(client, time.Minute)

	token, ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx, "someone-else"))
	_, ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a foreign token must not release the lock")

	require.NoError(t, a.Release(ctx, token))
	_, ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetryQueueFIFO(t *testing.T) {
	q := NewRetryQueue(newRedisClient(t))
	ctx := context.Background()

	entry, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, q.Push(ctx, RetryEntry{UID: 1, Raw: []byte("a"), Attempts: 1}))
	require.NoError(t, q.Push(ctx, RetryEntry{UID: 2, Raw: []byte("b"), Attempts: 2}))

	entry, err = q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, uint32(1), entry.UID)
	assert.Equal(t, []byte("a"), entry.Raw)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
