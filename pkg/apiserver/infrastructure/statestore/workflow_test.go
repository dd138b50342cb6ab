package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/infrastructure/resilience"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return mr, cli
}

func testPolicy(name string) *resilience.Policy {
	return resilience.NewPolicy(name, config.ResilienceConfig{
		AttemptTimeout:  time.Second,
		BreakerFailures: 100,
		BreakerCooldown: time.Second,
	})
}

func TestWorkflowStoreLifecycle(t *testing.T) {
	mr, cli := newTestRedis(t)
	store := NewWorkflowStore(cli, testPolicy("wf"), time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "c1", config.StatusAccepted))

	state, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, config.StatusAccepted, state.Status)
	require.Zero(t, state.OrderID)

	ttl := mr.TTL("order:status:c1")
	require.Equal(t, time.Minute, ttl)

	set, err := store.TrySetStatusIfExists(ctx, "c1", config.StatusProcessing)
	require.NoError(t, err)
	require.True(t, set)

	set, err = store.TrySetCompletedIfExists(ctx, "c1", 1001)
	require.NoError(t, err)
	require.True(t, set)

	state, err = store.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, config.StatusCompleted, state.Status)
	require.Equal(t, int64(1001), state.OrderID)
}

func TestWorkflowStoreIfExistsGuardsExpiredState(t *testing.T) {
	_, cli := newTestRedis(t)
	store := NewWorkflowStore(cli, testPolicy("wf"), time.Minute)
	ctx := context.Background()

	// No prior SetStatus: the workflow either expired or never existed.
	set, err := store.TrySetStatusIfExists(ctx, "gone", config.StatusProcessing)
	require.NoError(t, err)
	require.False(t, set, "a dead workflow must not be resurrected")

	set, err = store.TrySetCompletedIfExists(ctx, "gone", 7)
	require.NoError(t, err)
	require.False(t, set)

	state, err := store.Get(ctx, "gone")
	require.NoError(t, err)
	require.Nil(t, state)
}

func TestWorkflowStoreWritesRefreshTTL(t *testing.T) {
	mr, cli := newTestRedis(t)
	store := NewWorkflowStore(cli, testPolicy("wf"), time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "c1", config.StatusAccepted))
	mr.FastForward(30 * time.Second)

	set, err := store.TrySetStatusIfExists(ctx, "c1", config.StatusProcessing)
	require.NoError(t, err)
	require.True(t, set)
	require.Equal(t, time.Minute, mr.TTL("order:status:c1"), "every write must restart the TTL clock")
}

func TestWorkflowStoreRemoveStatus(t *testing.T) {
	_, cli := newTestRedis(t)
	store := NewWorkflowStore(cli, testPolicy("wf"), time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "c1", config.StatusAccepted))
	require.NoError(t, store.RemoveStatus(ctx, "c1"))

	state, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.Nil(t, state)
}
