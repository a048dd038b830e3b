package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xela07ax/ratewarden/internal/bootstrap"
	"github.com/xela07ax/ratewarden/internal/engine"
	"github.com/xela07ax/ratewarden/internal/infra"
	"github.com/xela07ax/ratewarden/internal/infra/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig(os.Getenv("RATEWARDEN_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 2. Хранилище учета (один раз на процесс)
	store, locker, err := bootstrap.OpenStore(appCtx, cfg, logger)
	if err != nil {
		logger.Fatal("accounting store init failed", zap.Error(err))
	}

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 3. Ядро губернатора. Ошибка в таблице политик: не стартуем
	rt, err := bootstrap.New(appCtx, cfg, store, locker, reg, logger)
	if err != nil {
		_ = store.Close()
		logger.Fatal("governor init failed", zap.Error(err))
	}
	defer rt.Close()

	validator, err := bootstrap.TokenValidator(cfg)
	if err != nil {
		logger.Fatal("auth key", zap.Error(err))
	}
	if validator == nil {
		logger.Warn("no auth public key configured: all visitors are limited as guests, admin API is closed")
	}

	rt.Sweeper.Start(appCtx)

	// 4. HTTP шлюз перед сайтом
	proxies, err := auth.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Fatal("trusted proxies", zap.Error(err))
	}
	gw, err := engine.NewGateway(cfg.Server.Upstream, rt.Engine, validator, engine.GatewayOptions{
		CheckTimeout:   cfg.Server.CheckTimeout,
		Gatherer:       reg,
		TrustedProxies: proxies,
	}, logger)
	if err != nil {
		logger.Fatal("gateway init failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 5. Админский API на отдельном порту
	adminSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Console.Host, cfg.Console.Port),
		Handler:      rt.ConsoleHandler(validator, logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// 6. gRPC: health через тот же губернатор
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(engine.UnaryGovernorInterceptor(rt.Engine, validator, logger)))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			logger.Fatal("failed to listen gRPC", zap.Error(err))
		}
		logger.Info("gRPC server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	for _, s := range []*http.Server{srv, adminSrv} {
		go func(s *http.Server) {
			logger.Info("http server started", zap.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("listen", zap.String("addr", s.Addr), zap.Error(err))
			}
		}(s)
	}

	<-appCtx.Done() // Ждем сигнал
	logger.Info("gateway stopping...")
	healthSrv.Shutdown()

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin shutdown failed", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	rt.Sweeper.Stop()
	logger.Info("gateway exited properly")
}
