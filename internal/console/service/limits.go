package service

import (
	"context"
	"time"

	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
)

// Admin описывает требования сервиса к губернатору
type Admin interface {
	ResetLimits(ctx context.Context, identity, endpointKey string) (int64, error)
	GetStats(ctx context.Context, horizonSeconds int64) (domain.StatsReport, error)
	Ping(ctx context.Context) error
}

type LimitsService struct {
	admin          Admin
	defaultHorizon time.Duration
}

func NewLimitsService(admin Admin, defaultHorizon time.Duration) *LimitsService {
	if defaultHorizon <= 0 {
		defaultHorizon = governor.DefaultStatsHorizon
	}
	return &LimitsService{admin: admin, defaultHorizon: defaultHorizon}
}

// Reset снимает ограничения с личности: на одном эндпоинте или на всех.
func (s *LimitsService) Reset(ctx context.Context, identity, endpoint string) (int64, error) {
	return s.admin.ResetLimits(ctx, identity, endpoint)
}

// Stats: отчет за horizonSeconds; 0 означает горизонт по умолчанию.
// Границы горизонта проверяет губернатор (governor.ErrInvalidHorizon).
func (s *LimitsService) Stats(ctx context.Context, horizonSeconds int64) (domain.StatsReport, error) {
	if horizonSeconds == 0 {
		horizonSeconds = int64(s.defaultHorizon / time.Second)
	}
	return s.admin.GetStats(ctx, horizonSeconds)
}

func (s *LimitsService) Health(ctx context.Context) error {
	return s.admin.Ping(ctx)
}
