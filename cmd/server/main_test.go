package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mentorchat/internal/config"
)

func TestOpenMemoryStorageSeedsDevPairs(t *testing.T) {
	cfg := config.Config{Storage: config.StorageConfig{Driver: config.DriverMemory}}
	ctx := context.Background()

	store, err := openStorage(ctx, cfg, zaptest.NewLogger(t), "alice:bob, carol:dave,garbage")
	require.NoError(t, err)
	defer store.close()

	ok, err := store.directory.IsAuthorized(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.directory.IsAuthorized(ctx, "carol", "dave")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.directory.IsAuthorized(ctx, "alice", "carol")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, store.ready(ctx))

	_, err = openStorage(ctx, cfg, zaptest.NewLogger(t), "alice:alice")
	assert.Error(t, err)
}

func TestNewAuthenticatorWithoutRedis(t *testing.T) {
	cfg := config.Config{Auth: config.AuthConfig{JWTSecret: "s", IdentityClaim: "_id"}}
	authn, closeFn, err := newAuthenticator(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, authn)
	assert.NoError(t, closeFn())
}
