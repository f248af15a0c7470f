package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qbong1010/printer-server/internal/autoprint"
	"github.com/qbong1010/printer-server/internal/cache"
	"github.com/qbong1010/printer-server/internal/config"
	"github.com/qbong1010/printer-server/internal/infrastructure/logger"
	"github.com/qbong1010/printer-server/internal/infrastructure/sqlite"
	"github.com/qbong1010/printer-server/internal/printer"
	"github.com/qbong1010/printer-server/internal/remote"
	"github.com/qbong1010/printer-server/internal/server"
	"github.com/qbong1010/printer-server/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := sqlite.NewConnection(cfg.Cache.DatabasePath)
	if err != nil {
		zapLogger.Fatal("opening cache database", zap.Error(err))
	}
	defer db.Close()
	if err := sqlite.InitSchema(db); err != nil {
		zapLogger.Fatal("initializing cache schema", zap.Error(err))
	}
	zapLogger.Info("cache database ready", zap.String("path", cfg.Cache.DatabasePath))

	remoteClient := remote.NewClient(cfg.Supabase, zapLogger)

	var shipper *telemetry.Shipper
	if cfg.Telemetry.Enabled && remoteClient.Configured() {
		shipper = telemetry.NewShipper(remoteClient, cfg.Telemetry.QueueSize,
			cfg.Telemetry.SpillPath, zapLogger)
	} else {
		shipper = telemetry.NewShipper(nil, 0, "", zapLogger)
	}
	shipper.Start()
	if cfg.Telemetry.Enabled && remoteClient.Configured() {
		zapLogger = logger.WithTee(zapLogger, telemetry.NewCore(shipper))
	}

	configStore := printer.NewStore(cfg.Printer.ConfigPath, zapLogger)
	if err := configStore.Load(); err != nil {
		zapLogger.Fatal("loading printer config", zap.Error(err))
	}

	repo := cache.NewRepository(db)
	syncer := cache.NewSyncer(db, repo, remoteClient, zapLogger)
	dispatcher := printer.NewDispatcher(configStore, cfg.Printer.BackupPath, zapLogger)

	orchestrator := autoprint.NewOrchestrator(repo, syncer, dispatcher, configStore,
		remoteClient, cfg.AutoPrint.PollInterval, cfg.Cache.PullLimit, zapLogger)

	handler := server.NewHandler(repo, dispatcher, configStore, syncer,
		remoteClient, cfg.Cache.PullLimit, zapLogger)
	router := server.NewRouter(handler, cfg.Server.APIToken, zapLogger)
	srv := server.New(cfg.Server.Port, router, zapLogger)

	runCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		orchestrator.Run(runCtx)
		close(loopDone)
	}()

	if remoteClient.Configured() {
		// Warm the cache so the first tick prints instead of syncing.
		bootCtx, cancel := context.WithTimeout(runCtx, 30*time.Second)
		if err := syncer.RefreshAll(bootCtx); err != nil {
			zapLogger.Warn("initial reference refresh incomplete", zap.Error(err))
		}
		if _, err := syncer.SyncOrders(bootCtx, cfg.Cache.PullLimit); err != nil {
			zapLogger.Warn("initial order sync failed", zap.Error(err))
		}
		cancel()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			zapLogger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	zapLogger.Info("received shutdown signal")

	stopLoop()
	<-loopDone

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("server shutdown failed", zap.Error(err))
	}
	if err := shipper.Shutdown(ctx); err != nil {
		zapLogger.Error("telemetry shutdown timed out", zap.Error(err))
	}

	zapLogger.Info("agent stopped gracefully")
}
