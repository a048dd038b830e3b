package governor

/*
Файл sweeper.go: фоновая очистка хранилища учета по горизонту хранения.

Движку для корректности sweeper не нужен: окно чистится лениво в Acquire.
Sweeper лишь не дает хранилищу расти от бакетов, к которым больше никто не обращается.
Операция идемпотентна, поэтому с движком ее не синхронизируем.

Жизненный цикл как у фоновых воркеров шлюза: Start поднимает горутину,
Stop отменяет контекст и ждет ее через WaitGroup.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultRetention     = 24 * time.Hour
	DefaultSweepInterval = 10 * time.Minute

	sweepLockKey = "sweep"
)

type Sweeper struct {
	store     RetentionStore
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	metrics   *Metrics
	now       Clock

	// locker не обязателен: без него чистит каждый инстанс
	locker  Locker
	lockKey string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type SweeperOption func(*Sweeper)

func WithSweeperClock(c Clock) SweeperOption {
	return func(s *Sweeper) { s.now = c }
}

func WithSweeperMetrics(m *Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

// WithLocker включает распределенную блокировку: за интервал чистит только один инстанс.
func WithLocker(l Locker) SweeperOption {
	return func(s *Sweeper) { s.locker = l }
}

func NewSweeper(store RetentionStore, retention, interval time.Duration, logger *zap.Logger, opts ...SweeperOption) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &Sweeper{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger.With(zap.String("mod", "sweeper")),
		now:       time.Now,
		lockKey:   sweepLockKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// RunOnce удаляет все записи старше горизонта и возвращает их число.
// Если блокировку держит другой инстанс, ничего не делает.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if s.locker != nil {
		// TTL чуть меньше интервала, чтобы следующий тик любого инстанса мог забрать лок
		ok, err := s.locker.TryLock(ctx, s.lockKey, s.interval-s.interval/10)
		if err != nil {
			return 0, err
		}
		if !ok {
			s.logger.Debug("sweep skipped: another instance holds the lock")
			return 0, nil
		}
	}

	cutoff := s.now().Add(-s.retention).UnixMilli()
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return deleted, err
	}

	s.metrics.SweptEntries.Add(float64(deleted))
	s.logger.Info("retention sweep finished",
		zap.Int64("deleted", deleted),
		zap.Duration("retention", s.retention))
	return deleted, nil
}

func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.worker(ctx)
}

// Stop ждет завершения текущего прохода.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) worker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				// следующий тик попробует снова
				s.logger.Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}
