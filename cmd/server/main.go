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
	"github.com/robfig/cron/v3"

	"github.com/dkruglov/trade-arena/internal/config"
	"github.com/dkruglov/trade-arena/internal/logger"
	"github.com/dkruglov/trade-arena/internal/market"
	"github.com/dkruglov/trade-arena/internal/storage"
	"github.com/dkruglov/trade-arena/internal/telegram"
	"github.com/dkruglov/trade-arena/internal/trader"
	"github.com/dkruglov/trade-arena/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// .env is optional; real env vars win either way
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	log.Info("starting trade-arena", "interval", cfg.Trading.Interval, "coins", len(cfg.Trading.Coins))

	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Market price cache with its own refresh cadence
	client, err := market.NewClient(cfg.Market.BaseURL, cfg.Trading.Coins, cfg.MarketTimeout(), log)
	if err != nil {
		log.Error("market client init failed", "error", err)
		os.Exit(1)
	}
	fetcher := market.NewFetcher(client, cfg.MarketTimeout(), log)
	if err := fetcher.Refresh(ctx); err != nil {
		log.Warn("initial price fetch failed, agents will wait for the refresher", "error", err)
	}

	cr := cron.New()
	if err := fetcher.Schedule(cr, cfg.MarketRefreshInterval()); err != nil {
		log.Error("schedule market refresh failed", "error", err)
		os.Exit(1)
	}
	cr.Start()

	notifier := telegram.NewNotifier(cfg, log)
	manager := trader.NewManager(ctx, repo, fetcher, notifier, cfg, log)
	webServer := web.NewServer(repo, fetcher, manager, cfg, log)

	if err := manager.StartAll(); err != nil {
		log.Error("start agents failed", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	notifier.NotifyStatus("🤖 Trade-Arena started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", "signal", sig.String())

	// Graceful shutdown: stop new cycles, let in-flight ones finish
	cancel()
	cr.Stop()
	manager.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}

	notifier.NotifyStatus("🛑 Trade-Arena stopped")
	log.Info("trade-arena stopped")
}
