package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mirrorlabs/insider-mirror/internal/config"
	"github.com/mirrorlabs/insider-mirror/internal/executor"
	"github.com/mirrorlabs/insider-mirror/internal/feed"
	"github.com/mirrorlabs/insider-mirror/internal/logger"
	"github.com/mirrorlabs/insider-mirror/internal/market"
	"github.com/mirrorlabs/insider-mirror/internal/risk"
	"github.com/mirrorlabs/insider-mirror/internal/scheduler"
	"github.com/mirrorlabs/insider-mirror/internal/storage"
	"github.com/mirrorlabs/insider-mirror/internal/telegram"
	"github.com/mirrorlabs/insider-mirror/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/insider-mirror.db", "path to SQLite database")
	flag.Parse()

	// Optional .env for the feed token
	_ = godotenv.Load()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Init logger
	log := logger.New(cfg.Logging.Level)

	mode := "LIVE"
	if cfg.IsPaper() {
		mode = "PAPER"
	}
	log.Info("starting insider-mirror", "mode", mode)

	// Init database
	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	// Context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init services
	notifier := telegram.NewNotifier(cfg, log)
	exec := executor.New(repo, notifier, cfg, log)
	if err := exec.Restore(); err != nil {
		log.Error("portfolio restore failed", "error", err)
		os.Exit(1)
	}

	feedClient := feed.NewClient(cfg, log)
	engine := risk.NewEngine(cfg.RiskLimits())

	var provider market.Provider
	if c := market.NewClient(cfg, log); c != nil {
		provider = c
	} else {
		log.Warn("no market endpoint configured, stop-loss checks will be skipped")
	}

	sched := scheduler.NewScheduler(feedClient, engine, exec, provider, repo, notifier, cfg, log)
	webServer := web.NewServer(exec, repo, provider, cfg, log)

	// Start scheduler in goroutine
	go sched.Run(ctx)

	// Start web server in goroutine
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	notifier.NotifyStatus(fmt.Sprintf("🤖 insider-mirror started (%s)", mode))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", "signal", sig.String())

	// Graceful shutdown
	cancel() // stop scheduler

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}

	notifier.NotifyStatus("🛑 insider-mirror stopped")
	log.Info("insider-mirror stopped")
}
