package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/api"
	"github.com/adaptive-search/backend/internal/app"
	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/pkg/config"
	appLogger "github.com/adaptive-search/backend/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "adaptive search: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer appLogger.Sync()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	server, stopLimiter := api.NewApp(engine.Handlers(), api.Options{
		Server:      cfg.Server,
		Development: cfg.Server.Development,
		AccessLog:   cfg.Server.Development,
	})
	defer stopLimiter()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listenErr := make(chan error, 1)
	go func() {
		appLogger.Info("Adaptive search API listening", zap.String("address", addr))
		listenErr <- server.Listen(addr)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	appLogger.Info("Shutting down, draining background writes")
	if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
		appLogger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	return nil
}
