package governor

/*
Файл engine.go реализует Decision Engine: решение "пропустить / отклонить" на каждый запрос.

Машина состояний живет только на время одного check:
  RESOLVING -> COUNTING -> DECIDING -> {ADMITTED, REJECTED}

- RESOLVING: классификация пути, нормализация личности и роли, выбор политики.
- COUNTING + DECIDING: одна атомарная операция хранилища Acquire
  (удалить записи старше окна, посчитать, вставить если count < limit).
  Атомарность обеспечивает само хранилище: мьютекс бакета, Lua-скрипт или advisory lock.
- Fail Open: любая ошибка хранилища: запрос пропускается с limit=0 и отдельной записью в лог.
  Отказ лимитера не должен становиться отказом сайта.

Check никогда не возвращает ошибку пайплайну, только Verdict.
*/

import (
	"context"
	"time"

	"github.com/xela07ax/ratewarden/internal/domain"
	"go.uber.org/zap"
)

// CheckRequest: входной контракт от пайплайна запросов.
type CheckRequest struct {
	RawPath string
	Method  string
	Caller  domain.Caller
}

type Engine struct {
	table      *PolicyTable
	classifier *Classifier
	store      WindowStore
	metrics    *Metrics
	logger     *zap.Logger
	now        Clock
}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.now = c }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClassifier подменяет классификатор, например на вариант с кэшем.
func WithClassifier(c *Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// NewEngine принимает уже проверенную таблицу политик и долгоживущее хранилище.
func NewEngine(table *PolicyTable, store WindowStore, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		table:  table,
		store:  store,
		logger: logger.Named("governor"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.classifier == nil {
		e.classifier = NewClassifier(table.Prefixes())
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

func (e *Engine) Classifier() *Classifier {
	return e.classifier
}

func (e *Engine) Check(ctx context.Context, req CheckRequest) domain.Verdict {
	start := e.now()

	// RESOLVING
	caller := req.Caller
	if caller.Identity.IsZero() {
		caller.Identity = domain.ResolveIdentity("", "")
	}
	if !caller.Role.Valid() {
		caller.Role = domain.RoleGuest
	}
	endpointKey := e.classifier.Classify(req.RawPath)
	policy := e.table.Resolve(caller.Role, endpointKey)

	bucket := domain.Bucket{
		Identity:    caller.Identity.String(),
		EndpointKey: endpointKey,
	}
	nowMs := start.UnixMilli()

	// COUNTING + DECIDING
	usage, err := e.store.Acquire(ctx, bucket, nowMs, policy.Limit)
	if err != nil {
		return e.failOpen(req, caller, bucket, start, err)
	}

	v := domain.Verdict{
		Limit:       policy.Requests,
		EndpointKey: endpointKey,
		Identity:    bucket.Identity,
		Role:        caller.Role,
	}

	oldest := usage.OldestMillis
	if oldest == 0 {
		oldest = nowMs
	}
	v.ResetAtMillis = oldest + policy.WindowMillis()

	outcome := OutcomeAdmitted
	if usage.Admitted {
		// ADMITTED
		v.Allowed = true
		v.Remaining = policy.Requests - usage.Count - 1
		if v.Remaining < 0 {
			v.Remaining = 0
		}
		e.logger.Debug("request admitted",
			zap.String("identity", bucket.Identity),
			zap.String("endpoint", endpointKey),
			zap.String("method", req.Method),
			zap.Int64("remaining", v.Remaining))
	} else {
		// REJECTED
		outcome = OutcomeRejected
		v.Remaining = 0
		v.RetryAfterSeconds = retryAfterSeconds(v.ResetAtMillis, nowMs)
		e.logger.Info("request rejected",
			zap.String("identity", bucket.Identity),
			zap.String("role", string(caller.Role)),
			zap.String("endpoint", endpointKey),
			zap.String("method", req.Method),
			zap.Int64("count", usage.Count),
			zap.Int64("limit", policy.Requests),
			zap.Int64("retry_after_s", v.RetryAfterSeconds))
	}

	e.observe(caller.Role, endpointKey, outcome, start)
	return v
}

// failOpen пропускает запрос без учета. Пишется отдельным событием, не как обычный admit.
func (e *Engine) failOpen(req CheckRequest, caller domain.Caller, bucket domain.Bucket, start time.Time, err error) domain.Verdict {
	e.logger.Error("accounting store unavailable, failing open",
		zap.String("event", "governor_fail_open"),
		zap.String("identity", bucket.Identity),
		zap.String("endpoint", bucket.EndpointKey),
		zap.String("method", req.Method),
		zap.Error(err))

	e.metrics.FailOpenTotal.Inc()
	e.observe(caller.Role, bucket.EndpointKey, OutcomeFailOpen, start)

	return domain.Verdict{
		Allowed:     true,
		Limit:       0,
		Remaining:   0,
		EndpointKey: bucket.EndpointKey,
		Identity:    bucket.Identity,
		Role:        caller.Role,
		FailOpen:    true,
	}
}

func (e *Engine) observe(role domain.Role, endpoint, outcome string, start time.Time) {
	e.metrics.Checks.WithLabelValues(string(role), endpoint, outcome).Inc()
	e.metrics.CheckDuration.WithLabelValues(outcome).Observe(e.now().Sub(start).Seconds())
}

// retryAfterSeconds = ceil((resetAt - now) / 1000), не меньше 1.
func retryAfterSeconds(resetAtMillis, nowMillis int64) int64 {
	delta := resetAtMillis - nowMillis
	if delta <= 0 {
		return 1
	}
	secs := (delta + 999) / 1000
	if secs < 1 {
		return 1
	}
	return secs
}
