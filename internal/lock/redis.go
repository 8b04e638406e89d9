package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const redisReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const redisKeyPrefix = "ens:lock:"

// RedisLocker holds SET NX PX keys with a random token. The TTL bounds how long a
// crashed holder can block a job.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(redisReleaseScript),
		ttl:    ttl,
	}
}

func (l *RedisLocker) Backend() string { return "redis" }

func (l *RedisLocker) TryAcquire(ctx context.Context, resource string) (Lease, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, ErrNotConfigured
	}
	if resource == "" {
		return nil, false, ErrEmptyResource
	}

	key := redisKeyPrefix + resource
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{locker: l, key: key, token: token}, true, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	deleted, err := l.locker.script.Run(ctx, l.locker.client, []string{l.key}, token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return errors.New("redis lock expired before release")
	}
	return nil
}
