package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xela07ax/ratewarden/internal/bootstrap"
	"github.com/xela07ax/ratewarden/internal/infra"
	"go.uber.org/zap"
)

// Отдельный админский API для общего хранилища (redis/postgres).
// Хранилище в памяти принадлежит процессу шлюза, поэтому здесь оно бессмысленно.
func main() {
	cfg, err := infra.LoadConfig(os.Getenv("RATEWARDEN_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Store.Driver == infra.StoreMemory {
		logger.Fatal("console needs a shared store: set store.driver to redis or postgres")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 1. Инициализация ресурсов
	store, _, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("accounting store unreachable", zap.Error(err))
	}

	// 2. Инициализация слоев (Dependency Injection)
	rt, err := bootstrap.New(ctx, cfg, store, nil, nil, logger)
	if err != nil {
		_ = store.Close()
		logger.Fatal("governor init failed", zap.Error(err))
	}
	defer rt.Close()

	validator, err := bootstrap.TokenValidator(cfg)
	if err != nil || validator == nil {
		logger.Fatal("console requires auth.public_key_path", zap.Error(err))
	}

	// 3. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Console.Host, cfg.Console.Port),
		Handler:      rt.ConsoleHandler(validator, logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console shutdown failed", zap.Error(err))
	}
}
