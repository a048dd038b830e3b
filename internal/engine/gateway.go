package engine

/*
Файл gateway.go собирает HTTP-шлюз перед сайтом служения.

Цепочка (снаружи внутрь):
  TrustedRealIP -> Recoverer -> Trace -> Identity -> Governor -> ReverseProxy(сайт)

Заголовки X-Forwarded-For и соседние читаем только от прокси из TrustedProxies.

/metrics и /healthz не проходят через губернатор: их опрашивает инфраструктура, а не посетители.
*/

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/netip"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/ratewarden/internal/infra/auth"
	"go.uber.org/zap"
)

type GatewayOptions struct {
	// CheckTimeout: сколько запрос ждет хранилище учета
	CheckTimeout time.Duration
	// Gatherer: откуда отдавать /metrics, при nil не отдаем
	Gatherer prometheus.Gatherer
	// TrustedProxies: сети балансировщиков, чьим заголовкам адреса верим. Пусто: верим только RemoteAddr
	TrustedProxies []netip.Prefix
}

type Gateway struct {
	upstream *url.URL
	proxy    *httputil.ReverseProxy
	gov      Checker
	tokens   auth.TokenValidator
	opts     GatewayOptions
	logger   *zap.Logger
}

// NewGateway: tokens может быть nil, тогда все посетители считаются гостями по адресу.
func NewGateway(upstream string, gov Checker, tokens auth.TokenValidator, opts GatewayOptions, logger *zap.Logger) (*Gateway, error) {
	u, err := url.Parse(upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q: %v", upstream, err)
	}

	g := &Gateway{
		upstream: u,
		gov:      gov,
		tokens:   tokens,
		opts:     opts,
		logger:   logger.Named("gateway"),
	}

	g.proxy = httputil.NewSingleHostReverseProxy(u)
	g.proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.logger.Error("upstream request failed",
			zap.String("trace_id", TraceID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}
	return g, nil
}

func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(auth.TrustedRealIP(g.opts.TrustedProxies))
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	if g.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.IdentityMiddleware(g.tokens, g.logger))
		r.Use(GovernorMiddleware(g.gov, g.opts.CheckTimeout, g.logger))
		r.Handle("/*", g.proxy)
	})
	return r
}
