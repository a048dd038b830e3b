// Package bootstrap собирает губернатор из конфигурации. Общий для gateway, console и governorctl.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/ratewarden/internal/governor"
	"github.com/xela07ax/ratewarden/internal/infra"
	"github.com/xela07ax/ratewarden/internal/storage/memory"
	"github.com/xela07ax/ratewarden/internal/storage/postgres"
	"github.com/xela07ax/ratewarden/internal/storage/redisstore"
	"go.uber.org/zap"
)

// Runtime: все долгоживущие части губернатора одного процесса.
type Runtime struct {
	Config     governor.Config
	Table      *governor.PolicyTable
	Classifier *governor.Classifier
	Store      governor.Store
	Engine     *governor.Engine
	Sweeper    *governor.Sweeper
	Admin      *governor.Admin
	Metrics    *governor.Metrics
}

// OpenStore открывает хранилище по store.driver и ждет его готовности.
// Locker возвращается только для redis и только если включен governor.sweep_lock.
func OpenStore(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (governor.Store, governor.Locker, error) {
	var (
		store   governor.Store
		locker  governor.Locker
		migrate func(context.Context) error
	)

	switch cfg.Store.Driver {
	case infra.StoreMemory:
		return memory.New(), nil, nil

	case infra.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = redisstore.New(rdb, redisstore.Options{EntryTTL: cfg.Governor.Retention})
		if cfg.Governor.SweepLock {
			locker = redisstore.NewLocker(rdb)
		}

	case infra.StorePostgres:
		if cfg.Database.URL == "" {
			return nil, nil, fmt.Errorf("database.url is required for the postgres store")
		}
		pool, err := postgres.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		pg := postgres.New(pool, postgres.Options{
			SweepBatch: cfg.Database.SweepBatch,
			SweepRate:  cfg.Database.SweepRate,
		})
		store = pg
		migrate = pg.Migrate

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if err := governor.WaitForStore(ctx, store, cfg.Store.PingAttempts, logger); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	if migrate != nil {
		if err := migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
	}
	return store, locker, nil
}

// New собирает Runtime поверх уже открытого хранилища. Ошибка таблицы политик фатальна.
func New(ctx context.Context, cfg *infra.Config, store governor.Store, locker governor.Locker, reg prometheus.Registerer, logger *zap.Logger) (*Runtime, error) {
	gcfg := cfg.Governor.ToGovernor()

	table, err := gcfg.Table()
	if err != nil {
		return nil, fmt.Errorf("policy table: %w", err)
	}

	classifier := governor.NewClassifier(table.Prefixes())
	if cc := cfg.Governor.ClassifyCache; cc.Enabled {
		classifier, err = governor.NewCachedClassifier(ctx, table.Prefixes(), cc.LifeWindow, cc.MaxSizeMB)
		if err != nil {
			return nil, err
		}
	}

	metrics := governor.NewMetrics(reg)
	guarded := governor.NewBreakerStore(store, gcfg.Breaker, metrics, logger)

	engine := governor.NewEngine(table, guarded, logger,
		governor.WithMetrics(metrics),
		governor.WithClassifier(classifier),
	)

	sweeperOpts := []governor.SweeperOption{governor.WithSweeperMetrics(metrics)}
	if locker != nil {
		sweeperOpts = append(sweeperOpts, governor.WithLocker(locker))
	}
	sweeper := governor.NewSweeper(store, gcfg.Retention, gcfg.SweepInterval, logger, sweeperOpts...)

	stats := governor.NewAggregator(store, gcfg.StatsTopN, nil)
	admin := governor.NewAdmin(store, classifier, stats, logger)

	return &Runtime{
		Config:     gcfg,
		Table:      table,
		Classifier: classifier,
		Store:      store,
		Engine:     engine,
		Sweeper:    sweeper,
		Admin:      admin,
		Metrics:    metrics,
	}, nil
}

// Close освобождает хранилище и кэш классификатора.
func (rt *Runtime) Close() error {
	_ = rt.Classifier.Close()
	return rt.Store.Close()
}
