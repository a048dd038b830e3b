package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/xela07ax/ratewarden/internal/bootstrap"
	"github.com/xela07ax/ratewarden/internal/infra"
	"go.uber.org/zap"
)

var (
	configPath string
	verbose    bool
)

// rootCmd: операторская утилита губернатора
var rootCmd = &cobra.Command{
	Use:           "governorctl",
	Short:         "Операторские команды губернатора частоты запросов",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "путь к config.yaml (по умолчанию ./config.yaml или ./configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "подробный лог")

	rootCmd.AddCommand(resetCmd, statsCmd, sweepCmd, policiesCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*infra.Config, *zap.Logger, error) {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if !verbose {
		cfg.Logger.Level = "warn"
	}
	cfg.Logger.Format = "console"
	cfg.Logger.File = ""

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openRuntime подключается к общему хранилищу. Хранилище в памяти живет внутри шлюза,
// снаружи до него не добраться.
func openRuntime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Driver == infra.StoreMemory {
		return nil, fmt.Errorf("store.driver is %q: governorctl needs redis or postgres", cfg.Store.Driver)
	}

	// ручной sweep не ждет распределенный лок фонового sweeper-а
	store, _, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt, err := bootstrap.New(ctx, cfg, store, nil, nil, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return rt, nil
}
