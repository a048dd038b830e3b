package governor

import (
	"context"
	"errors"
	"time"

	"github.com/xela07ax/ratewarden/internal/domain"
)

// ErrStoreClosed возвращается любым методом хранилища после Close.
var ErrStoreClosed = errors.New("accounting store is closed")

// WindowStore описывает операции учета окна для одного бакета.
// Все методы должны быть безопасны при конкурентном вызове для одного и того же бакета.
type WindowStore interface {
	// CountSince возвращает число записей с ts >= sinceMillis.
	CountSince(ctx context.Context, bucket domain.Bucket, sinceMillis int64) (int64, error)
	Insert(ctx context.Context, bucket domain.Bucket, tsMillis int64) error
	// DeleteBefore удаляет записи бакета с ts < beforeMillis.
	DeleteBefore(ctx context.Context, bucket domain.Bucket, beforeMillis int64) (int64, error)

	// Acquire атомарно для бакета: удаляет записи старше окна, считает остаток
	// и вставляет nowMillis, только если count < limit.
	Acquire(ctx context.Context, bucket domain.Bucket, nowMillis int64, limit domain.Limit) (domain.Usage, error)
}

// RetentionStore нужен Sweeper-у для массовой очистки по горизонту.
type RetentionStore interface {
	DeleteOlderThan(ctx context.Context, beforeMillis int64) (int64, error)
}

// IdentityResetter удаляет записи одной личности; пустой endpointKey: все эндпоинты.
type IdentityResetter interface {
	DeleteIdentity(ctx context.Context, identity, endpointKey string) (int64, error)
}

// EntryScanner читает записи для статистики.
type EntryScanner interface {
	Scan(ctx context.Context, sinceMillis int64, fn func(domain.Entry) error) error
}

// Store: полное хранилище учета. Реализации: memory, redis, postgres.
// Захватывается один раз при старте процесса и закрывается при остановке.
type Store interface {
	WindowStore
	RetentionStore
	IdentityResetter
	EntryScanner

	Ping(ctx context.Context) error
	Close() error
}

// Locker: распределенная блокировка, чтобы только один инстанс чистил общее хранилище.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Clock нужен тестам, чтобы двигать время руками.
type Clock func() time.Time
