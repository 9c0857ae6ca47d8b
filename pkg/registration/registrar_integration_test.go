//go:build integration

package registration

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/buddhatalk/swcache/internal/testutil"
	"github.com/buddhatalk/swcache/pkg/cache"
	"github.com/buddhatalk/swcache/pkg/worker"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) *redis.Client {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		redisContainer.Terminate(ctx)
	})
	return client
}

func TestRedisStateStore_Integration(t *testing.T) {
	exerciseStateStore(t, NewRedisStateStore(setupRedis(t), ""))
}

// Two proxies share Redis: the second one rolls out a new version and its
// activation removes the first one's static store.
func TestRegistrar_Integration_VersionRollout(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	origin := testutil.NewMockOrigin()
	defer origin.Close()

	storage := cache.NewRedisStorage(client, "")
	registrar := NewRegistrar(NewRedisStateStore(client, ""), fastRetry(3))

	newWorker := func(version string) *worker.Worker {
		cfg := worker.DefaultConfig(origin.URL())
		cfg.Version = version
		cfg.Transport = origin.Transport()
		w, err := worker.New(storage, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { w.Shutdown(context.Background()) })
		return w
	}

	v1 := newWorker("1.0.0")
	state, err := registrar.Register(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", state.ActiveVersion)

	v2 := newWorker("1.1.0")
	state, err = registrar.Register(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", state.ActiveVersion)
	assert.Equal(t, PhaseActivated, state.Phase)

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"buddha-talk-v1.1.0"}, names)

	stored, err := registrar.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", stored.ActiveVersion)
}
