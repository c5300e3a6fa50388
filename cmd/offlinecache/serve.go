package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"offlinecache/internal/interface/connection"
	"offlinecache/internal/interface/handler"
	"offlinecache/internal/interface/repository/logger"
	"offlinecache/internal/interface/repository/metrics"
	"offlinecache/internal/interface/repository/partition"
	"offlinecache/internal/interface/repository/rules"
	"offlinecache/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caching proxy and the metrics server.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.validate(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *config) error {
	// ディレクトリの準備
	if err := prepareDirectories(cfg); err != nil {
		return err
	}

	// ロガーの初期化
	var tee []io.Writer
	if cfg.Verbose {
		tee = append(tee, os.Stderr)
	}
	loggerRepo, err := logger.New(cfg.LogDir, "offlinecache.log", cfg.level, logger.DefaultRotationConfig(), tee...)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer loggerRepo.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// ルーティング規則の初期化
	rulesRepo, err := rules.New(cfg.routesFile(), loggerRepo)
	if err != nil {
		loggerRepo.Error("Failed to load routing rules", err, nil)
		return err
	}
	go func() {
		if err := rulesRepo.Watch(ctx); err != nil {
			loggerRepo.Error("Routing rules watcher stopped", err, nil)
		}
	}()

	// パーティションストアの初期化
	store, closeStore, err := partition.New(cfg.storeConfig())
	if err != nil {
		loggerRepo.Error("Failed to initialize partition store", err, nil)
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			loggerRepo.Error("Failed to close partition store", err, nil)
		}
	}()

	// メトリクスの初期化
	metricsRepo := metrics.New(cfg.metricsFile())

	fetcher := connection.NewFetcher(cfg.originURL, connection.DefaultPoolConfig())
	defer fetcher.CloseAll()

	controller := handler.NewController(loggerRepo)

	manager := usecase.NewCacheManager(
		store,       // domain.PartitionStore
		fetcher,     // domain.Fetcher
		controller,  // domain.ClientController
		rulesRepo,   // domain.RulesProvider
		metricsRepo, // domain.MetricsCollector
		loggerRepo,  // domain.Logger
		usecase.CacheManagerConfig{
			Version:           cfg.Version,
			Mode:              cfg.mode,
			RevalidateTimeout: cfg.RevalidateTimeout,
		},
	)
	defer manager.Close()

	metricsUseCase := usecase.NewMetricsUseCase(
		metricsRepo,
		loggerRepo,
		usecase.MetricsConfig{SaveInterval: cfg.MetricsSaveInterval},
	)
	metricsUseCase.Start()
	defer func() {
		if err := metricsUseCase.Stop(); err != nil {
			loggerRepo.Error("Failed to save final metrics", err, nil)
		}
	}()

	// ハンドラーの作成
	passthrough := handler.NewPassthrough(cfg.originURL, fetcher.Transport(), loggerRepo)
	proxyHandler := handler.NewProxyHandler(manager, passthrough, cfg.originURL, rulesRepo, loggerRepo)
	metricsHandler := handler.NewMetricsHandler(metricsUseCase, metricsRepo.Handler(), manager, controller, loggerRepo)

	proxyServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           proxyHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	// サーバーの起動
	go func() {
		loggerRepo.Info("Starting proxy server", map[string]interface{}{
			"port":   cfg.Port,
			"origin": cfg.originURL.String(),
		})
		if err := proxyServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			loggerRepo.Error("Proxy server error", err, nil)
			cancel()
		}
	}()

	go func() {
		loggerRepo.Info("Starting metrics server", map[string]interface{}{"port": cfg.MetricsPort})
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			loggerRepo.Error("Metrics server error", err, nil)
			cancel()
		}
	}()

	// 有効化まではリクエストをそのまま転送する
	go func() {
		if err := manager.Start(ctx, cfg.ActivationRetry); err != nil && !errors.Is(err, context.Canceled) {
			loggerRepo.Error("Cache manager did not activate", err, nil)
		}
	}()

	// シグナル待機
	select {
	case <-signalChan:
		loggerRepo.Info("Shutdown signal received", nil)
	case <-ctx.Done():
		loggerRepo.Info("Shutdown initiated", nil)
	}
	cancel()

	// グレースフルシャットダウン
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := proxyServer.Shutdown(shutdownCtx); err != nil {
		loggerRepo.Error("Error shutting down proxy server", err, nil)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		loggerRepo.Error("Error shutting down metrics server", err, nil)
	}

	loggerRepo.Info("Shutdown complete", nil)
	return nil
}
