package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
	"github.com/xela07ax/ratewarden/internal/infra/auth"
	"go.uber.org/zap"
)

// Checker: то, что пайплайн знает о губернаторе.
type Checker interface {
	Check(ctx context.Context, req governor.CheckRequest) domain.Verdict
}

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
	HeaderTraceID    = "X-Trace-ID"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

// TracingMiddleware инициализирует Trace-ID для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Пытаемся достать ID из заголовка (если пришел от прокси)
		traceID := r.Header.Get(HeaderTraceID)

		// 2. Если его нет: генерируем новый
		if traceID == "" {
			traceID = uuid.New().String()
		}

		// 3. Кладем в контекст
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)

		// 4. Добавляем в ответ, чтобы клиент тоже знал ID своего запроса
		w.Header().Set(HeaderTraceID, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TraceID помогает безопасно достать ID в любом месте кода
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return "00000000-0000-0000-0000-000000000000" // Fallback
}

type rejection struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	Endpoint          string `json:"endpoint"`
	Limit             int64  `json:"limit"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
	TraceID           string `json:"trace_id"`
}

// GovernorMiddleware спрашивает губернатора на каждый запрос.
// Отказ: 429 с заголовками X-RateLimit-* и Retry-After, дальше по цепочке запрос не идет.
// checkTimeout ограничивает ожидание хранилища: по истечении Check уходит в fail open.
func GovernorMiddleware(gov Checker, checkTimeout time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.Named("http-governor")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, _ := auth.CallerFromContext(r.Context())

			ctx := r.Context()
			var cancel context.CancelFunc = func() {}
			if checkTimeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, checkTimeout)
			}
			v := gov.Check(ctx, governor.CheckRequest{
				RawPath: r.URL.Path,
				Method:  r.Method,
				Caller:  caller,
			})
			cancel()

			// При fail open реального лимита нет, заголовки не отдаем
			if !v.FailOpen {
				h := w.Header()
				h.Set(HeaderLimit, strconv.FormatInt(v.Limit, 10))
				h.Set(HeaderRemaining, strconv.FormatInt(v.Remaining, 10))
				h.Set(HeaderReset, strconv.FormatInt(v.ResetAtMillis, 10))
			}

			if !v.Allowed {
				writeRejection(w, r, v, log)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRejection(w http.ResponseWriter, r *http.Request, v domain.Verdict, log *zap.Logger) {
	w.Header().Set(HeaderRetryAfter, strconv.FormatInt(v.RetryAfterSeconds, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	body := rejection{
		Error:             domain.RejectionCode,
		Message:           "too many requests, retry later",
		Endpoint:          v.EndpointKey,
		Limit:             v.Limit,
		RetryAfterSeconds: v.RetryAfterSeconds,
		TraceID:           TraceID(r.Context()),
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("failed to write rejection body", zap.Error(err))
	}
}
