package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"auction-marketplace/internal/domain"
)

// releaseScript shortens the lock to the remaining minimum hold, or drops it when the
// minimum hold has passed. Only the token owner may touch the key.
const releaseScript = `
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
    return 0
end
local remaining = tonumber(ARGV[2])
if remaining > 0 then
    return redis.call("PEXPIRE", KEYS[1], remaining)
end
return redis.call("DEL", KEYS[1])
`

// RedisLock is a cluster-wide lock: one SET NX PX key per name. maxHold bounds how long a
// crashed holder can block others; minHold keeps fast holders from letting a second
// instance run the same work right after them.
type RedisLock struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{
		client: client,
		prefix: "lock:",
		now:    time.Now,
	}
}

func (r *RedisLock) Acquire(ctx context.Context, name string, minHold, maxHold time.Duration) (domain.Lease, bool, error) {
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, maxHold).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	return &redisLease{
		lock:       r,
		key:        key,
		token:      token,
		acquiredAt: r.now(),
		minHold:    minHold,
	}, true, nil
}

type redisLease struct {
	lock       *RedisLock
	key        string
	token      string
	acquiredAt time.Time
	minHold    time.Duration
}

func (l *redisLease) Release(ctx context.Context) error {
	remaining := l.minHold - l.lock.now().Sub(l.acquiredAt)

	_, err := l.lock.client.Eval(ctx, releaseScript, []string{l.key},
		l.token, remaining.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
