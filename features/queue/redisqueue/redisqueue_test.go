package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q, err := New(Options{Client: rdb})
	require.NoError(t, err)
	return q
}

func TestEnqueueReceiveDelete_RoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1"))

	msgs, err := q.Receive(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "job-1", msgs[0].JobID)

	// Not redelivered while the lease is held.
	msgs2, err := q.Receive(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, msgs2)

	require.NoError(t, q.Delete(ctx, msgs[0]))
}

func TestReceive_RedeliversAfterVisibilityExpires(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "job-2"))

	msgs, err := q.Receive(ctx, 10, -time.Second) // already-expired lease
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msgs2, err := q.Receive(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs2, 1)
	assert.Equal(t, "job-2", msgs2[0].JobID)
}

func TestExtendVisibility_StaleHandleIsNoop(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "job-3"))

	msgs, err := q.Receive(ctx, 10, -time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	staleHandle := msgs[0]

	// Lease already expired and got redelivered with a new handle.
	msgs2, err := q.Receive(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs2, 1)

	require.NoError(t, q.ExtendVisibility(ctx, staleHandle, time.Hour))
	require.NoError(t, q.Delete(ctx, msgs2[0]))
}

func TestEnqueue_RejectsInvalidJobID(t *testing.T) {
	q := newTestQueue(t)
	err := q.Enqueue(context.Background(), "")
	assert.Error(t, err)
}
