package locks

import (
	"context"
	"sync"
	"time"

	"propmarket_backend/internal/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript - удаляем ключ, только если он все еще наш
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker - SET key token NX PX ttl, общий для всех реплик
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "propmarket:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	fullKey := l.prefix + key

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return l.buildRelease(fullKey, token), true, nil
}

func (l *RedisLocker) buildRelease(fullKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil {
				logger.Warn("failed to release redis lock", "key", fullKey, "error", err.Error())
			}
		})
	}
}
