package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/ratewarden/internal/console/handler"
	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики
	limitsHandler *handler.LimitsHandler // /v1/limits, /v1/stats
	policyHandler *handler.PolicyHandler // /v1/policies
}

// NewConsoleServer инициализирует админский API со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	limitsH *handler.LimitsHandler,
	policyH *handler.PolicyHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		limitsHandler: limitsH,
		policyHandler: policyH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", s.limitsHandler.Health)

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен с ролью admin) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, domain.RoleAdmin, s.logger))

		r.Post("/v1/limits/reset", s.limitsHandler.Reset)
		r.Get("/v1/stats", s.limitsHandler.Stats)
		r.Get("/v1/policies", s.policyHandler.List)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
