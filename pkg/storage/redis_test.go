//go:build integration

package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a Redis container for testing
func setupRedisContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
		redis.WithLogLevel(redis.LogLevelVerbose),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	return strings.TrimPrefix(endpoint, "redis://")
}

func TestRedisStore_NewRedisStore_Success(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisStore_NewRedisStore_InvalidAddr(t *testing.T) {
	_, err := NewRedisStore("invalid:99999", "", 0, 0)
	if err == nil {
		t.Fatal("expected error for invalid address, got nil")
	}
}

func TestRedisStore_NewRedisStore_InvalidParams(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		db      int
		ttl     time.Duration
		wantMsg string
	}{
		{name: "empty addr", addr: "", wantMsg: "redis address cannot be empty"},
		{name: "negative db", addr: "localhost:6379", db: -1, wantMsg: "redis database number must be >= 0"},
		{name: "negative ttl", addr: "localhost:6379", ttl: -time.Second, wantMsg: "redis ttl cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedisStore(tt.addr, "", tt.db, tt.ttl)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("error = %q, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestRedisStore_Put_Get(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	data := []byte(`{"format":"latencyguard/isolation-forest","version":1}`)

	if err := store.Put(ctx, "anomaly_detection_model.json", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := store.client.Exists(ctx, "latencyguard:artifact:anomaly_detection_model.json").Result()
	if err != nil {
		t.Fatalf("failed to check key existence: %v", err)
	}
	if exists != 1 {
		t.Error("expected key to exist in Redis")
	}

	ttl, err := store.client.TTL(ctx, "latencyguard:artifact:anomaly_detection_model.json").Result()
	if err != nil {
		t.Fatalf("failed to read key ttl: %v", err)
	}
	if ttl != -1 {
		t.Errorf("TTL = %v, want no expiry", ttl)
	}

	got, found, err := store.Get(ctx, "anomaly_detection_model.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("expected artifact to be found")
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}
}

func TestRedisStore_Get_NotFound(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	_, found, err := store.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if found {
		t.Error("expected found=false")
	}
}

func TestRedisStore_InvalidName(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Put(context.Background(), "bad name", []byte("x")); err == nil {
		t.Error("expected error for invalid artifact name")
	}
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 2*time.Second)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Put(context.Background(), "model", []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, found, _ := store.Get(context.Background(), "model"); !found {
		t.Fatal("expected artifact to be found immediately after Put")
	}

	time.Sleep(3 * time.Second)

	_, found, err := store.Get(context.Background(), "model")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("expected artifact to be expired")
	}
}

func TestRedisStore_Concurrency(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("model-%d", i)
			if err := store.Put(ctx, name, []byte(name)); err != nil {
				t.Errorf("Put(%s) failed: %v", name, err)
				return
			}
			got, found, err := store.Get(ctx, name)
			if err != nil || !found || string(got) != name {
				t.Errorf("Get(%s) = (%q, %v, %v)", name, got, found, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestRedisStore_Close_Idempotent(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.Close(); err != nil {
			t.Errorf("Close #%d failed: %v", i+1, err)
		}
	}

	if err := store.Put(context.Background(), "model", []byte("x")); err == nil {
		t.Error("Put after Close should fail")
	}
}
