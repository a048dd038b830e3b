package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/ratewarden/internal/domain"
	"go.uber.org/zap"
)

// BreakerSettings: настройки предохранителя вокруг хранилища учета.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         3,
		Interval:            5 * time.Second,
		Timeout:             30 * time.Second, // Время, через которое CB попробует "закрыться"
		ConsecutiveFailures: 5,
	}
}

// BreakerStore оборачивает горячий путь хранилища в Circuit Breaker.
// Пока предохранитель открыт, Acquire сразу возвращает ошибку и Engine уходит в fail open,
// не дожидаясь таймаутов сети на каждом запросе.
type BreakerStore struct {
	Store
	cb *gobreaker.CircuitBreaker
}

func NewBreakerStore(next Store, s BreakerSettings, metrics *Metrics, logger *zap.Logger) *BreakerStore {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	log := logger.Named("breaker")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "governor-store",
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > s.ConsecutiveFailures
		},
		// Отмена запроса клиентом: не поломка хранилища
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.Set(float64(to))
			log.Warn("store breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &BreakerStore{Store: next, cb: cb}
}

func (b *BreakerStore) Acquire(ctx context.Context, bucket domain.Bucket, nowMillis int64, limit domain.Limit) (domain.Usage, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.Store.Acquire(ctx, bucket, nowMillis, limit)
	})
	if err != nil {
		return domain.Usage{}, err
	}
	return res.(domain.Usage), nil
}

func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

// WaitForStore пингует хранилище при старте с экспоненциальным бэкоффом.
// Контейнер Redis/Postgres часто поднимается чуть позже шлюза.
func WaitForStore(ctx context.Context, store Store, attempts uint, logger *zap.Logger) error {
	if attempts == 0 {
		attempts = 1 // 0 у retry-go означает "бесконечно"
	}
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("accounting store not ready, retrying",
				zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)

	err := r.Do(func() error {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return store.Ping(pctx)
	})
	if err != nil {
		return fmt.Errorf("accounting store unreachable: %w", err)
	}
	return nil
}
