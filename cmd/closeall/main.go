package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/dkruglov/trade-arena/internal/advisor"
	"github.com/dkruglov/trade-arena/internal/config"
	"github.com/dkruglov/trade-arena/internal/engine"
	"github.com/dkruglov/trade-arena/internal/logger"
	"github.com/dkruglov/trade-arena/internal/market"
	"github.com/dkruglov/trade-arena/internal/storage"
)

// closeall flattens every open position across all models at current
// market prices. Useful before resetting an experiment.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "show positions without closing")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("error")

	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database error: %v\n", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	client, err := market.NewClient(cfg.Market.BaseURL, cfg.Trading.Coins, cfg.MarketTimeout(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "market client error: %v\n", err)
		os.Exit(1)
	}
	fetcher := market.NewFetcher(client, cfg.MarketTimeout(), log)
	if err := fetcher.Refresh(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "price fetch error: %v\n", err)
		os.Exit(1)
	}

	models, err := repo.ListModels()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list models error: %v\n", err)
		os.Exit(1)
	}

	executor := engine.NewExecutor(repo, log)
	var closed, failed int

	for _, model := range models {
		positions, err := repo.GetPositions(model.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [FAIL] %s: list positions: %v\n", model.Name, err)
			failed++
			continue
		}
		if len(positions) == 0 {
			continue
		}

		fmt.Printf("%s: %d position(s)\n", model.Name, len(positions))
		for _, p := range positions {
			price, ok := fetcher.Price(p.Coin)
			if !ok {
				fmt.Fprintf(os.Stderr, "  [FAIL] %s %s: no price\n", p.Coin, p.Side)
				failed++
				continue
			}

			fmt.Printf("  %s %s: %.6f @ %.2f, current %.2f\n", p.Coin, p.Side, p.Quantity, p.AvgPrice, price)
			if *dryRun {
				continue
			}

			decision := advisor.Decision{Signal: advisor.SignalClosePosition, Coin: p.Coin}
			trade, err := executor.Apply(model.ID, decision, price)
			if err != nil {
				fmt.Fprintf(os.Stderr, "  [FAIL] %s %s: close: %v\n", p.Coin, p.Side, err)
				failed++
				continue
			}

			fmt.Printf("  [OK]   %s: closed %.6f @ %.2f, P&L %.2f\n", p.Coin, trade.Quantity, trade.Price, trade.PnL)
			closed++
		}
	}

	if *dryRun {
		fmt.Println("Dry run, nothing closed.")
		return
	}

	fmt.Printf("\nDone: %d closed, %d failed.\n", closed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
