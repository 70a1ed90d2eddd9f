package broker

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*RedisProgressTracker, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tracker := NewRedisProgressTracker(rdb, time.Hour)
	return tracker, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestProgressTracker_DrainBarrier(t *testing.T) {
	tracker, cleanup := newTestTracker(t)
	defer cleanup()
	ctx := context.Background()

	taskID := int64(42)
	require.NoError(t, tracker.InitializeJob(ctx, 1, 3, &taskID))

	id, err := tracker.GetTaskID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, taskID, *id)

	drained, err := tracker.MarkItemProcessed(ctx, 1)
	require.NoError(t, err)
	require.False(t, drained)

	drained, err = tracker.MarkItemProcessed(ctx, 1)
	require.NoError(t, err)
	require.False(t, drained)

	drained, err = tracker.MarkItemProcessed(ctx, 1)
	require.NoError(t, err)
	require.True(t, drained, "third of three items should drain the barrier")

	id, err = tracker.GetTaskID(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, id, "draining clears total/processed/task_id keys")
}

func TestProgressTracker_MarkItemProcessed_UninitializedJob(t *testing.T) {
	tracker, cleanup := newTestTracker(t)
	defer cleanup()
	ctx := context.Background()

	drained, err := tracker.MarkItemProcessed(ctx, 999)
	require.NoError(t, err)
	require.False(t, drained)
}

func TestProgressTracker_MarkStageStarted_OnlyOnce(t *testing.T) {
	tracker, cleanup := newTestTracker(t)
	defer cleanup()
	ctx := context.Background()

	first, err := tracker.MarkStageStarted(ctx, 1, "match")
	require.NoError(t, err)
	require.True(t, first)

	second, err := tracker.MarkStageStarted(ctx, 1, "match")
	require.NoError(t, err)
	require.False(t, second, "second caller for the same stage must not win the race")
}

func TestProgressTracker_Cancellation(t *testing.T) {
	tracker, cleanup := newTestTracker(t)
	defer cleanup()
	ctx := context.Background()

	cancelled, err := tracker.IsCancelled(ctx, 7)
	require.NoError(t, err)
	require.False(t, cancelled)

	require.NoError(t, tracker.SetCancelled(ctx, 7))

	cancelled, err = tracker.IsCancelled(ctx, 7)
	require.NoError(t, err)
	require.True(t, cancelled)
}

func TestProgressTracker_ClearJob(t *testing.T) {
	tracker, cleanup := newTestTracker(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, tracker.InitializeJob(ctx, 2, 10, nil))
	require.NoError(t, tracker.ClearJob(ctx, 2))

	id, err := tracker.GetTaskID(ctx, 2)
	require.NoError(t, err)
	require.Nil(t, id)
}
