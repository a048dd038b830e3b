package governor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/xela07ax/ratewarden/internal/domain"
	"go.uber.org/zap"
)

var (
	ErrEmptyIdentity  = errors.New("identity is required")
	ErrInvalidHorizon = errors.New("horizon out of range")
)

// MaxHorizonSeconds: дальше time.Duration переполняется.
const MaxHorizonSeconds = math.MaxInt64 / int64(time.Second)

// Admin выполняет операторские операции над хранилищем учета.
type Admin struct {
	store      Store
	classifier *Classifier
	stats      *Aggregator
	logger     *zap.Logger
}

func NewAdmin(store Store, classifier *Classifier, stats *Aggregator, logger *zap.Logger) *Admin {
	return &Admin{
		store:      store,
		classifier: classifier,
		stats:      stats,
		logger:     logger.Named("admin"),
	}
}

// ResetLimits удаляет записи личности. Пустой endpointKey: все эндпоинты.
// endpointKey можно передать как путь: он будет классифицирован так же, как в горячем пути.
func (a *Admin) ResetLimits(ctx context.Context, identity, endpointKey string) (int64, error) {
	if strings.TrimSpace(identity) == "" {
		return 0, ErrEmptyIdentity
	}
	id := domain.ParseIdentity(identity).String()

	key := strings.TrimSpace(endpointKey)
	if key != "" && key != domain.DefaultEndpoint && a.classifier != nil {
		key = a.classifier.Classify(key)
	}

	deleted, err := a.store.DeleteIdentity(ctx, id, key)
	if err != nil {
		return 0, fmt.Errorf("reset limits for %s: %w", id, err)
	}

	a.logger.Info("limits reset",
		zap.String("identity", id),
		zap.String("endpoint", key),
		zap.Int64("deleted", deleted))
	return deleted, nil
}

// GetStats: горизонт должен быть в (0, MaxHorizonSeconds], иначе ErrInvalidHorizon.
func (a *Admin) GetStats(ctx context.Context, horizonSeconds int64) (domain.StatsReport, error) {
	if horizonSeconds <= 0 || horizonSeconds > MaxHorizonSeconds {
		return domain.StatsReport{}, fmt.Errorf("%w: %d seconds", ErrInvalidHorizon, horizonSeconds)
	}
	return a.stats.Report(ctx, time.Duration(horizonSeconds)*time.Second)
}

func (a *Admin) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}
