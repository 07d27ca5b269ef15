package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so a
// holder whose lease expired cannot release a lock taken by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocks is a per-key lease lock held in Redis, shared by every
// process that uses the same server and prefix.
type RedisLocks struct {
	client *redis.Client
	prefix string
	lease  time.Duration
	poll   time.Duration
}

// NewRedisLocks creates a lock set. lease bounds how long a crashed holder
// can block a key; it should exceed the longest turn.
func NewRedisLocks(client *redis.Client, prefix string, lease time.Duration) *RedisLocks {
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &RedisLocks{client: client, prefix: prefix, lease: lease, poll: 50 * time.Millisecond}
}

// Lock acquires the lease for key with SET NX, retrying until it is free
// or ctx is done.
func (l *RedisLocks) Lock(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	k := l.prefix + key

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, k, token, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		releaseScript.Run(rctx, l.client, []string{k}, token)
	}, nil
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
