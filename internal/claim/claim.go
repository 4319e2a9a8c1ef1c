// Package claim provides a cross-process claim on a render job so that
// several service instances sharing a store do not render the same key.
package claim

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a held claim. Release it with the Claimer that issued it.
type Lease struct {
	Key   string
	Token string
}

// Claimer acquires and releases claims on job keys.
type Claimer interface {
	// Acquire returns ok=false when another holder owns key.
	Acquire(ctx context.Context, key string) (lease Lease, ok bool, err error)
	// Release drops lease if it is still held by its token.
	Release(ctx context.Context, lease Lease) error
}

// Nop always grants the claim. It is used when no Redis is configured and
// the in-process registry is the only guard.
type Nop struct{}

func (Nop) Acquire(_ context.Context, key string) (Lease, bool, error) {
	return Lease{Key: key}, true, nil
}

func (Nop) Release(context.Context, Lease) error { return nil }

const keyPrefix = "unwrapped:claim:"

// releaseScript deletes the key only if it still holds our token, so an
// expired lease never removes a claim taken over by another instance.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis stores claims as keys with a TTL.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis creates a Redis claimer. ttl bounds how long a crashed holder
// can block a key; it should exceed the render timeout.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, key string) (Lease, bool, error) {
	lease := Lease{Key: keyPrefix + key, Token: uuid.NewString()}
	ok, err := r.rdb.SetNX(ctx, lease.Key, lease.Token, r.ttl).Result()
	if err != nil {
		return Lease{}, false, err
	}
	if !ok {
		return Lease{}, false, nil
	}
	return lease, true, nil
}

func (r *Redis) Release(ctx context.Context, lease Lease) error {
	if lease.Token == "" {
		return nil
	}
	return releaseScript.Run(ctx, r.rdb, []string{lease.Key}, lease.Token).Err()
}
