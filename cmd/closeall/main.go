package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/mirrorlabs/insider-mirror/internal/config"
	"github.com/mirrorlabs/insider-mirror/internal/executor"
	"github.com/mirrorlabs/insider-mirror/internal/logger"
	"github.com/mirrorlabs/insider-mirror/internal/market"
	"github.com/mirrorlabs/insider-mirror/internal/model"
	"github.com/mirrorlabs/insider-mirror/internal/storage"
	"github.com/mirrorlabs/insider-mirror/internal/telegram"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/insider-mirror.db", "path to SQLite database")
	dryRun := flag.Bool("dry-run", false, "show positions without closing")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database init error: %v\n", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	notifier := telegram.NewNotifier(cfg, log)
	exec := executor.New(repo, notifier, cfg, log)
	if err := exec.Restore(); err != nil {
		fmt.Fprintf(os.Stderr, "portfolio restore error: %v\n", err)
		os.Exit(1)
	}

	positions := exec.OpenPositions()
	if len(positions) == 0 {
		fmt.Println("No open positions.")
		return
	}

	ctx := context.Background()

	var provider market.Provider
	if c := market.NewClient(cfg, log); c != nil {
		provider = c
	}
	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	quotes := market.Quotes(ctx, provider, symbols, log)

	fmt.Printf("Found %d position(s):\n\n", len(positions))
	for _, p := range positions {
		price, ok := quotes[p.Symbol]
		if !ok {
			price = p.AverageCost
		}
		fmt.Printf("  %s: %d shares, avg cost %.2f, current %.2f\n",
			p.Symbol, p.Quantity, p.AverageCost, price)
	}
	fmt.Println()

	if *dryRun {
		fmt.Println("Dry run, nothing closed.")
		return
	}

	var closed, failed int
	for _, p := range positions {
		price, ok := quotes[p.Symbol]
		if !ok {
			// Without a quote the exit is booked at cost.
			price = p.AverageCost
		}

		trade := model.Trade{
			Symbol:   p.Symbol,
			Type:     model.TypeSell,
			Shares:   p.Quantity,
			Price:    price,
			SourceID: "closeall-" + uuid.NewString(),
		}
		entry, err := exec.Execute(trade, p.Quantity)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [FAIL] %s: sell: %v\n", p.Symbol, err)
			failed++
			continue
		}

		fmt.Printf("  [OK]   %s: sold %d shares @ %.2f, P&L %.2f\n",
			p.Symbol, entry.Quantity, entry.Price, entry.RealizedPnL)
		closed++
	}

	if err := exec.PersistSnapshot(quotes); err != nil {
		fmt.Fprintf(os.Stderr, "snapshot error: %v\n", err)
	}

	fmt.Printf("\nDone: %d closed, %d failed.\n", closed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
