package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"mentorchat/internal/db"
)

func startPostgres(t *testing.T) *db.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mentorchat"),
		postgres.WithUsername("chat"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable", "application_name=test")
	require.NoError(t, err)

	database, err := db.NewDatabase(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.AutoMigrate(ctx))
	// migrations are idempotent
	require.NoError(t, database.AutoMigrate(ctx))
	return database
}

func TestPostgresRepositories(t *testing.T) {
	database := startPostgres(t)
	ctx := context.Background()
	messages := NewRepository(database.Conn)
	conversations := NewConversationRepository(database.Conn)

	t.Run("ordering", func(t *testing.T) {
		c1, err := conversations.Create(ctx, "order-x", "order-y", StatusAccepted)
		require.NoError(t, err)
		c2, err := conversations.Create(ctx, "order-x", "order-z", StatusAccepted)
		require.NoError(t, err)
		checkAppendOrdering(t, messages, c1.ID, c2.ID)
	})

	t.Run("directory", func(t *testing.T) {
		checkDirectory(t, conversations, func(a, b string, st Status) int64 {
			c, err := conversations.Create(ctx, a, b, st)
			require.NoError(t, err)
			return c.ID
		})
	})

	t.Run("unordered pair is unique", func(t *testing.T) {
		_, err := conversations.Create(ctx, "pair-a", "pair-b", StatusPending)
		require.NoError(t, err)
		_, err = conversations.Create(ctx, "pair-b", "pair-a", StatusAccepted)
		assert.Error(t, err)
		_, err = conversations.Create(ctx, "pair-a", "pair-c", Status("waiting"))
		assert.Error(t, err)
	})

	t.Run("append returns persisted record", func(t *testing.T) {
		c, err := conversations.Create(ctx, "rec-a", "rec-b", StatusAccepted)
		require.NoError(t, err)

		before := time.Now().Add(-time.Minute)
		m, err := messages.Append(ctx, c.ID, "rec-a", "hello", "client-1")
		require.NoError(t, err)
		assert.NotZero(t, m.ID)
		assert.True(t, m.CreatedAt.After(before))

		plain, err := messages.Append(ctx, c.ID, "rec-b", "hey", "")
		require.NoError(t, err)

		all, err := messages.ListAll(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "client-1", all[0].ClientMsgID)
		assert.Equal(t, "", all[1].ClientMsgID)
		assert.Equal(t, plain.ID, all[1].ID)
	})

	t.Run("append to unknown conversation fails", func(t *testing.T) {
		_, err := messages.Append(ctx, 1<<40, "ghost", "boo", "")
		assert.Error(t, err)
	})
}
