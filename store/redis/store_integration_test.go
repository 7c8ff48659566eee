//go:build integration

package redis_test

import (
	"context"
	"strings"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/beacon/internal/storetest"
	"github.com/xraph/beacon/store"
	"github.com/xraph/beacon/store/redis"
)

// setupRedis starts a Redis container and returns its address.
func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainersredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start Redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err, "failed to get Redis connection string")
	return strings.TrimPrefix(addr, "redis://")
}

func TestConformance(t *testing.T) {
	addr := setupRedis(t)

	storetest.Run(t, func(t *testing.T) store.Store {
		rdb := goredis.NewClient(&goredis.Options{Addr: addr})
		require.NoError(t, rdb.FlushDB(context.Background()).Err())

		s := redis.NewFromClient(rdb)
		require.NoError(t, s.Migrate(context.Background()))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
