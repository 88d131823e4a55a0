//go:build integration

package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/registry-fetch/pkg/registry"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
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

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestMirror_Integration_PublishAndGet(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	m, err := New(redisClient, DefaultConfig("run-publish"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	want := registry.Normalize("A1", 200, []byte(`{"message":{"total":1,"result":[{"meansTestingResults":{"premiumAmount":500},"citizenClientRegistryNumber":"C9"}]}}`))
	if err := m.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got, err := m.Get(ctx, "A1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "A1" || got.StatusText() != "200" || got.RegistryNumberText() != "C9" {
		t.Errorf("Get() = %+v", got)
	}
	if got.PremiumText() != "500" {
		t.Errorf("PremiumText() = %q, want 500", got.PremiumText())
	}

	var wantResp, gotResp any
	_ = json.Unmarshal(want.Response, &wantResp)
	_ = json.Unmarshal(got.Response, &gotResp)
	if fmt.Sprint(wantResp) != fmt.Sprint(gotResp) {
		t.Errorf("Response = %s, want %s", got.Response, want.Response)
	}

	ttl, err := redisClient.TTL(ctx, Key{RunID: "run-publish", ID: "A1"}.String()).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > 24*time.Hour {
		t.Errorf("TTL = %v, want (0, 24h]", ttl)
	}

	if _, err := m.Get(ctx, "missing"); err != ErrNotFound {
		t.Errorf("Get(missing) error = %v, want %v", err, ErrNotFound)
	}
}

func TestMirror_Integration_ConcurrentPublish(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	m, err := New(redisClient, Config{RunID: "run-concurrent"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	const total = 100
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := registry.Normalize(fmt.Sprintf("ID-%d", i), 500, nil)
			if err := m.Publish(ctx, r); err != nil {
				t.Errorf("Publish() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	count, err := m.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != total {
		t.Errorf("Count() = %d, want %d", count, total)
	}

	ids, err := m.Completed(ctx)
	if err != nil {
		t.Fatalf("Completed() error = %v", err)
	}
	if len(ids) != total {
		t.Errorf("len(Completed()) = %d, want %d", len(ids), total)
	}

	ttl, err := redisClient.TTL(ctx, CountKey("run-concurrent")).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl != -1 {
		t.Errorf("TTL with zero config = %v, want no expiry", ttl)
	}
}
