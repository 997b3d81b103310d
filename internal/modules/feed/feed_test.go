package feed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ryde/internal/modules/trip"
	"ryde/internal/types"
)

func newTestFeed(t *testing.T) *Feed {
	t.Helper()
	addr := os.Getenv("RYDE_REDIS_ADDR")
	if addr == "" {
		t.Skip("RYDE_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test:trips:"+uuid.NewString(), nil)
}

func TestFeed_DeliversMatchingUpdates(t *testing.T) {
	f := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := f.Subscribe(ctx, trip.Filter{PassengerID: "p1"})
	require.NoError(t, err)

	require.NoError(t, f.Publish(ctx, trip.Trip{ID: "t0", PassengerID: "p2", Status: trip.StatusRequested}))
	d := types.ID("d1")
	require.NoError(t, f.Publish(ctx, trip.Trip{ID: "t1", PassengerID: "p1", Status: trip.StatusAccepted, DriverID: &d}))

	select {
	case got := <-updates:
		assert.Equal(t, types.ID("t1"), got.ID)
		assert.Equal(t, trip.StatusAccepted, got.Status)
		require.NotNil(t, got.DriverID)
		assert.Equal(t, d, *got.DriverID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func TestFeed_ClosesOnCancel(t *testing.T) {
	f := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())

	updates, err := f.Subscribe(ctx, trip.Filter{})
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestFeed_SubscribeUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	f := New(rdb, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.Subscribe(ctx, trip.Filter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, trip.ErrUnavailable)
}

func TestFeed_FormerDriverSeesCancellation(t *testing.T) {
	f := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := f.Subscribe(ctx, trip.Filter{DriverID: "d1"})
	require.NoError(t, err)

	d := types.ID("d1")
	require.NoError(t, f.Publish(ctx, trip.Trip{ID: "t1", PassengerID: "p1", Status: trip.StatusCancelled, CancelledDriverID: &d}))

	select {
	case got := <-updates:
		assert.Equal(t, types.ID("t1"), got.ID)
		assert.Equal(t, trip.StatusCancelled, got.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the cancellation")
	}
}
