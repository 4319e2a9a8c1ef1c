package claim

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestNopAlwaysGrants(t *testing.T) {
	var c Claimer = Nop{}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		lease, ok, err := c.Acquire(ctx, "octocat:dark")
		if err != nil || !ok {
			t.Fatalf("expected grant, got ok=%v err=%v", ok, err)
		}
		if err := c.Release(ctx, lease); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return rdb
}

func TestRedisClaimIsExclusive(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewRedis(rdb, time.Minute)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	first, ok, err := c.Acquire(ctx, key)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	if _, ok, err := c.Acquire(ctx, key); err != nil || ok {
		t.Fatalf("second acquire must fail: ok=%v err=%v", ok, err)
	}

	if err := c.Release(ctx, first); err != nil {
		t.Fatalf("release: %v", err)
	}

	second, ok, err := c.Acquire(ctx, key)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	_ = c.Release(ctx, second)
}

func TestRedisReleaseIgnoresForeignToken(t *testing.T) {
	rdb := newTestRedis(t)
	c := NewRedis(rdb, time.Minute)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	held, ok, _ := c.Acquire(ctx, key)
	if !ok {
		t.Fatal("expected claim")
	}
	defer c.Release(ctx, held)

	stale := Lease{Key: held.Key, Token: "someone-else"}
	if err := c.Release(ctx, stale); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, ok, _ := c.Acquire(ctx, key); ok {
		t.Error("foreign token must not release the claim")
	}
}
