package bootstrap

import (
	"net/http"

	"github.com/xela07ax/ratewarden/internal/console/handler"
	"github.com/xela07ax/ratewarden/internal/console/server"
	"github.com/xela07ax/ratewarden/internal/console/service"
	"github.com/xela07ax/ratewarden/internal/infra"
	"github.com/xela07ax/ratewarden/internal/infra/auth"
	"go.uber.org/zap"
)

// TokenValidator возвращает nil-интерфейс, если ключ не настроен: тогда все посетители считаются гостями,
// а админский API закрыт.
func TokenValidator(cfg *infra.Config) (auth.TokenValidator, error) {
	if len(cfg.Auth.PublicKey) == 0 {
		return nil, nil
	}
	key, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return nil, err
	}
	return auth.NewBaseValidator(key), nil
}

// ConsoleHandler собирает админский API поверх Runtime.
func (rt *Runtime) ConsoleHandler(validator auth.TokenValidator, logger *zap.Logger) http.Handler {
	limitsSvc := service.NewLimitsService(rt.Admin, rt.Config.StatsHorizon)
	policySvc := service.NewPolicyService(rt.Table)

	return server.NewConsoleServer(
		logger,
		validator,
		handler.NewLimitsHandler(limitsSvc, logger.Named("console")),
		handler.NewPolicyHandler(policySvc),
	)
}
