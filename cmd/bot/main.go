package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halverin/opt-trader/internal/config"
	"github.com/halverin/opt-trader/internal/logger"
	"github.com/halverin/opt-trader/internal/market"
	"github.com/halverin/opt-trader/internal/position"
	"github.com/halverin/opt-trader/internal/risk"
	"github.com/halverin/opt-trader/internal/scheduler"
	"github.com/halverin/opt-trader/internal/session"
	sigengine "github.com/halverin/opt-trader/internal/signal"
	"github.com/halverin/opt-trader/internal/stats"
	"github.com/halverin/opt-trader/internal/storage"
	"github.com/halverin/opt-trader/internal/telegram"
	"github.com/halverin/opt-trader/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/opt-trader.db", "path to SQLite database")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Init logger
	log := logger.New(cfg.Logging.Level)
	log.Info("starting opt-trader", "symbols", cfg.Trading.Symbols)

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
	provider := market.NewYahooProvider(log)
	exec := market.NewPaperExecutor(provider, log)
	notifier := telegram.NewNotifier(cfg, log)
	posEngine := position.NewEngine(repo, exec, cfg, log)
	sigEngine := sigengine.NewEngine(repo, cfg, log)
	monitor := risk.NewMonitor(repo, cfg, log)
	agg := stats.NewAggregator(repo, cfg, log)
	gate := session.NewMarketGate(cfg, nil)

	sched := scheduler.NewScheduler(
		provider, posEngine, sigEngine, monitor, agg,
		repo, notifier, gate, cfg, log, nil)

	webServer := web.NewServer(repo, cfg, log, func() (bool, string) {
		st := sched.State()
		if st == nil {
			return false, ""
		}
		return st.Halted(), st.HaltReason()
	})

	// Start scheduler in goroutine
	go sched.Run(ctx)

	// Start web server in goroutine
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	notifier.NotifyStatus("🤖 opt-trader started")

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

	notifier.NotifyStatus("🛑 opt-trader stopped")
	log.Info("opt-trader stopped")
}
