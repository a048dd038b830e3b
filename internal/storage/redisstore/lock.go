package redisstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/ratewarden/internal/governor"
	"github.com/xela07ax/ratewarden/internal/infra"
)

// Locker: распределенная блокировка (SetNX), чтобы только один инстанс выполнял фоновую работу.
// Лок не снимается явно: он живет ttl и истекает сам, до следующего интервала.
type Locker struct {
	rdb   redis.UniversalClient
	owner string
}

var _ governor.Locker = (*Locker)(nil)

func NewLocker(rdb redis.UniversalClient) *Locker {
	host, _ := os.Hostname()
	return &Locker{rdb: rdb, owner: host + "/" + uuid.NewString()}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, infra.RedisLockKey(key), l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	return ok, nil
}
