package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if this holder still owns it,
// so a lease that expired and was re-acquired elsewhere is not removed
// by the stale holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a distributed Locker backed by SET NX with a TTL. It keeps
// the single-flight invariant even when the processor runs as multiple
// instances: only one holder per lease name at a time.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed locker.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Acquire attempts SET NX on the lease key with the given TTL.
func (r *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := "lease:" + name
	holder := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Best effort: an unreleased lease expires with its TTL.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, r.client, []string{key}, holder).Err()
	}
	return release, true, nil
}
