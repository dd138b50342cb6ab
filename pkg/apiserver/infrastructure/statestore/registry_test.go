package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	mr, cli := newTestRedis(t)
	reg := NewRegistry(cli, testPolicy("reg"), time.Minute)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "c1", "user-1"))
	require.Equal(t, time.Minute, mr.TTL("order:map:c1"))

	userID, err := reg.ResolveUserID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)
}

func TestRegistryRejectsEmptyUserID(t *testing.T) {
	_, cli := newTestRedis(t)
	reg := NewRegistry(cli, testPolicy("reg"), time.Minute)

	err := reg.Register(context.Background(), "c1", "")
	require.ErrorIs(t, err, ErrEmptyUserID)
}

func TestRegistryResolveAbsentMapping(t *testing.T) {
	_, cli := newTestRedis(t)
	reg := NewRegistry(cli, testPolicy("reg"), time.Minute)

	userID, err := reg.ResolveUserID(context.Background(), "unknown")
	require.NoError(t, err)
	require.Empty(t, userID)
}

func TestRegistryHealsLegacyKey(t *testing.T) {
	mr, cli := newTestRedis(t)
	reg := NewRegistry(cli, testPolicy("reg"), time.Minute)
	ctx := context.Background()

	// Mapping written by an older release under the session-scoped key.
	require.NoError(t, mr.Set("ws:session:c9", "user-9"))
	mr.SetTTL("ws:session:c9", 10*time.Second)

	userID, err := reg.ResolveUserID(ctx, "c9")
	require.NoError(t, err)
	require.Equal(t, "user-9", userID)

	// The read must have copied the mapping to the canonical key with a
	// fresh TTL.
	mr.CheckGet(t, "order:map:c9", "user-9")
	require.Equal(t, time.Minute, mr.TTL("order:map:c9"))

	// Subsequent resolves hit the canonical key directly.
	userID, err = reg.ResolveUserID(ctx, "c9")
	require.NoError(t, err)
	require.Equal(t, "user-9", userID)
}
