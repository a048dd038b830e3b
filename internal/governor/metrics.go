package governor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeAdmitted = "admitted"
	OutcomeRejected = "rejected"
	OutcomeFailOpen = "fail_open"
)

type Metrics struct {
	// Traffic: решения по исходу. В endpoint только сконфигурированные префиксы, кардинальность ограничена
	Checks *prometheus.CounterVec

	// Latency: сколько занял check вместе с хранилищем
	CheckDuration *prometheus.HistogramVec

	// Errors: хранилище недоступно, запрос пропущен
	FailOpenTotal prometheus.Counter

	// Retention: сколько записей удалил sweeper
	SweptEntries prometheus.Counter

	// Saturation: состояние Circuit Breaker хранилища (0 - closed, 1 - half-open, 2 - open)
	BreakerState prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Checks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_checks_total",
			Help: "Total number of rate limit checks by outcome.",
		}, []string{"role", "endpoint", "outcome"}),

		CheckDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governor_check_duration_seconds",
			Help:    "Histogram of rate limit check latencies.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"outcome"}),

		FailOpenTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "governor_fail_open_total",
			Help: "Checks admitted because the accounting store was unavailable.",
		}),

		SweptEntries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "governor_swept_entries_total",
			Help: "Accounting entries deleted by the retention sweeper.",
		}),

		BreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "governor_store_breaker_state",
			Help: "State of the accounting store circuit breaker (0=closed, 1=half-open, 2=open).",
		}),
	}
}
