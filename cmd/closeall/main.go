package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/halverin/opt-trader/internal/config"
	"github.com/halverin/opt-trader/internal/logger"
	"github.com/halverin/opt-trader/internal/market"
	"github.com/halverin/opt-trader/internal/position"
	"github.com/halverin/opt-trader/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/opt-trader.db", "path to SQLite database")
	dryRun := flag.Bool("dry-run", false, "show positions without closing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database error: %v\n", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	positions, err := repo.GetOpenPositions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load positions error: %v\n", err)
		os.Exit(1)
	}

	if len(positions) == 0 {
		fmt.Println("No open positions.")
		return
	}

	fmt.Printf("Found %d position(s):\n\n", len(positions))
	for _, p := range positions {
		symbol := "?"
		if p.Contract != nil {
			symbol = p.Contract.Symbol
		}
		fmt.Printf("  #%d %s: size %.0f, entry %.2f, current %.2f, stop %.2f\n",
			p.ID, symbol, p.Size, p.EntryPrice, p.CurrentPrice, p.StopLoss)
	}
	fmt.Println()

	if *dryRun {
		fmt.Println("Dry run — no orders placed.")
		return
	}

	ctx := context.Background()
	provider := market.NewYahooProvider(log)
	exec := market.NewPaperExecutor(provider, log)
	engine := position.NewEngine(repo, exec, cfg, log)

	var closed, failed int
	for i := range positions {
		p := &positions[i]
		symbol := ""
		if p.Contract != nil {
			symbol = p.Contract.Symbol
		}

		qty := int64(p.Size)
		if p.Contract != nil && p.Contract.Multiplier > 0 {
			qty = int64(p.Size) / int64(p.Contract.Multiplier)
		}
		if qty < 0 {
			qty = -qty
		}

		side := storage.SignalSell
		if p.Size < 0 {
			side = storage.SignalBuy
		}

		fill, err := exec.PlaceOrder(ctx, symbol, side, qty)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [FAIL] #%d %s: order: %v\n", p.ID, symbol, err)
			failed++
			continue
		}

		fact, err := engine.Close(p, fill.Price, storage.ReasonManual, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [FAIL] #%d %s: close: %v\n", p.ID, symbol, err)
			failed++
			continue
		}

		fmt.Printf("  [OK]   #%d %s: closed %d contract(s) @ %.2f, P&L %.2f\n",
			p.ID, symbol, qty, fill.Price, fact.PnL)
		closed++
	}

	fmt.Printf("\nDone: %d closed, %d failed.\n", closed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
