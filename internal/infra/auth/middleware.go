package auth

/*
Адаптер идентификации: превращает HTTP-запрос в domain.Caller.

- Валидный Bearer-токен: пользователь с ролью из claims.
- Нет токена или он невалиден: анонимный посетитель по адресу клиента (guest).
  Плохой токен не повод отказывать: лимит для guest самый жесткий.
*/

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/xela07ax/ratewarden/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator: интерфейс, который должны реализовать и шлюз, и консоль
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const callerKey ctxKey = "caller"

func WithCaller(ctx context.Context, c domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext возвращает вызывающего; если адаптер не отработал: анонимный guest.
func CallerFromContext(ctx context.Context) (domain.Caller, bool) {
	c, ok := ctx.Value(callerKey).(domain.Caller)
	if !ok {
		return domain.NewCaller("", "", ""), false
	}
	return c, true
}

// ClientAddress: адрес клиента без порта. За доверенным прокси RemoteAddr уже поправлен TrustedRealIP.
func ClientAddress(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// ResolveCaller: общий для HTTP и gRPC разбор токена. При v == nil все вызывающие считаются гостями.
func ResolveCaller(v TokenValidator, authHeader, addr string, logger *zap.Logger) domain.Caller {
	if v == nil || authHeader == "" {
		return domain.NewCaller("", addr, "")
	}
	claims, err := v.VerifyToken(authHeader)
	if err != nil {
		logger.Debug("token rejected, treating caller as anonymous",
			zap.String("addr", addr), zap.Error(err))
		return domain.NewCaller("", addr, "")
	}
	return domain.NewCaller(claims.UserID, addr, claims.Role)
}

// IdentityMiddleware кладет domain.Caller в контекст для всех запросов.
func IdentityMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.Named("identity")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := ResolveCaller(v, r.Header.Get("Authorization"), ClientAddress(r), log)
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// NewMiddleware требует валидный токен с ролью не ниже minRole (админский API).
func NewMiddleware(v TokenValidator, minRole domain.Role, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			// без ключа проверки токенов админский API закрыт целиком
			if authHeader == "" || v == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			role := domain.ParseRole(claims.Role)
			if role.Rank() < minRole.Rank() {
				logger.Warn("insufficient role",
					zap.String("user_id", claims.UserID),
					zap.String("role", string(role)))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			// Прокидываем данные в контекст
			caller := domain.NewCaller(claims.UserID, ClientAddress(r), claims.Role)
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
