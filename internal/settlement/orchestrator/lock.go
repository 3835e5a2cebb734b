package orchestrator

import (
	"context"
	"fmt"
	"time"

	"franchise-license-workers/internal/common/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serialises settlements of the same application across worker instances.
type Locker interface {
	Acquire(ctx context.Context, applicationID int64, ttl time.Duration) (release func(context.Context) error, err error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisLocker creates a locker storing keys as <prefix><applicationID>.
func NewRedisLocker(rdb redis.Cmdable, prefix string) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: prefix}
}

func (l *RedisLocker) key(applicationID int64) string {
	return fmt.Sprintf("%s%d", l.prefix, applicationID)
}

// Acquire takes the lock or fails with SETTLEMENT_LOCKED when another settlement holds it.
// The lock expires after ttl so a crashed worker cannot block the application forever.
func (l *RedisLocker) Acquire(ctx context.Context, applicationID int64, ttl time.Duration) (func(context.Context) error, error) {
	key := l.key(applicationID)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.NewUnavailableError(errors.ErrCodeDatabaseConnectionFailed, "redis", err)
	}
	if !ok {
		return nil, errors.NewSettlementLockedError(applicationID)
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, nil
}

// NopLocker never blocks. Used when no Redis is configured.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, int64, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
