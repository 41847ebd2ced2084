package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mirrorlabs/insider-mirror/internal/config"
	"github.com/mirrorlabs/insider-mirror/internal/executor"
	"github.com/mirrorlabs/insider-mirror/internal/feed"
	"github.com/mirrorlabs/insider-mirror/internal/logger"
	"github.com/mirrorlabs/insider-mirror/internal/market"
	"github.com/mirrorlabs/insider-mirror/internal/model"
	"github.com/mirrorlabs/insider-mirror/internal/risk"
	"github.com/mirrorlabs/insider-mirror/internal/storage"
	"github.com/mirrorlabs/insider-mirror/internal/telegram"
)

// fixedQuotes is a market.Provider backed by a mutable map.
type fixedQuotes struct {
	prices map[string]float64
}

func (f *fixedQuotes) Quote(_ context.Context, symbol string) (float64, error) {
	if price, ok := f.prices[symbol]; ok {
		return price, nil
	}
	return 0, fmt.Errorf("no quote for %s", symbol)
}

func testConfig(endpoint string) *config.Config {
	cfg := &config.Config{}
	cfg.Feed.Endpoint = endpoint
	cfg.Feed.TimeoutSeconds = 5
	cfg.Feed.MaxAttempts = 2
	cfg.Feed.BackoffBaseMs = 1
	cfg.Feed.BackoffMaxMs = 2
	cfg.Feed.DedupCapacity = 64
	cfg.Filter.MinValue = 1000
	cfg.Filter.MinShares = 10
	cfg.Filter.AllowedTypes = []string{"BUY", "SELL"}
	cfg.Filter.ExcludedTypes = []string{"GIFT"}
	cfg.Risk.MaxPositionSizeFraction = 0.5
	cfg.Risk.MaxDailyTrades = 10
	cfg.Risk.MaxConcentrationFraction = 0.6
	cfg.Risk.StopLossFraction = 0.9
	cfg.Risk.DailyDrawdownLimitFraction = 0.05
	cfg.Trading.Interval = "1h"
	cfg.Trading.Mode = "paper"
	cfg.Trading.InitialCash = 100000
	cfg.Trading.ReportWindowDays = 30
	return cfg
}

func setupScheduler(t *testing.T, handler http.HandlerFunc, provider market.Provider) (*Scheduler, *executor.Executor, *storage.Repository) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	log := logger.New("error")

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	repo := storage.NewRepository(db)

	notifier := telegram.NewNotifier(cfg, log)
	exec := executor.New(repo, notifier, cfg, log)
	feedClient := feed.NewClient(cfg, log)
	engine := risk.NewEngine(cfg.RiskLimits())

	return NewScheduler(feedClient, engine, exec, provider, repo, notifier, cfg, log), exec, repo
}

func record(sourceID string, shares int64, price float64) string {
	return fmt.Sprintf(`{"symbol": "AAPL", "transaction_type": "BUY", "shares": %d, "price": %g, "filing_date": "2026-08-28", "source_id": %q}`,
		shares, price, sourceID)
}

func TestCycleExecutesSignificantTrades(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		// One significant record, one below the share threshold.
		fmt.Fprintf(w, `{"data": [%s, %s]}`,
			record("big", 100, 500),
			record("small", 5, 500))
	}
	s, exec, repo := setupScheduler(t, handler, nil)

	s.runCycle(context.Background())

	n, err := repo.CountLedgerEntries()
	if err != nil || n != 1 {
		t.Fatalf("ledger entries = %d (%v), want 1", n, err)
	}

	positions := exec.OpenPositions()
	if len(positions) != 1 || positions[0].Symbol != "AAPL" || positions[0].Quantity != 100 {
		t.Fatalf("positions = %+v, want 100 AAPL", positions)
	}

	// The end-of-cycle snapshot is the restart recovery point.
	snap, err := repo.GetLatestSnapshot()
	if err != nil {
		t.Fatalf("no snapshot after cycle: %v", err)
	}
	if snap.PositionsCount != 1 {
		t.Errorf("snapshot positions = %d, want 1", snap.PositionsCount)
	}

	if s.state != StateIdle {
		t.Errorf("state = %s, want IDLE after a clean cycle", s.state)
	}
}

func TestCycleSetsDayBoundaryState(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": []}`)
	}
	s, exec, _ := setupScheduler(t, handler, nil)

	s.runCycle(context.Background())

	today := time.Now().UTC().Format("2006-01-02")
	if exec.TradingDay() != today {
		t.Errorf("trading day = %q, want %q set on first cycle", exec.TradingDay(), today)
	}
}

func TestDrawdownHaltsUntilNextDay(t *testing.T) {
	calls := 0
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprintf(w, `{"data": [%s]}`, record(fmt.Sprintf("src-%d", calls), 100, 500))
	}
	quotes := &fixedQuotes{prices: map[string]float64{}}
	s, exec, repo := setupScheduler(t, handler, quotes)

	// Cycle 1: clean buy of 100 AAPL @ $500.
	s.runCycle(context.Background())
	if n, _ := repo.CountLedgerEntries(); n != 1 {
		t.Fatalf("ledger after first cycle = %d, want 1", n)
	}

	// AAPL drops to $400: portfolio value 90,000 vs 100,000 start of day,
	// a 10% drawdown against a 5% limit.
	quotes.prices["AAPL"] = 400

	// Cycle 2: the next admit trips the breaker.
	s.runCycle(context.Background())
	if !exec.Halted() {
		t.Fatal("drawdown breach must latch the halt")
	}
	if s.state != StateHalted {
		t.Errorf("state = %s, want HALTED", s.state)
	}
	if n, _ := repo.CountLedgerEntries(); n != 1 {
		t.Fatalf("ledger after halt = %d, want still 1", n)
	}

	// Cycle 3: halted cycles do not even fetch.
	fetchesBefore := calls
	s.runCycle(context.Background())
	if calls != fetchesBefore {
		t.Error("halted cycle must not hit the feed")
	}
}

func TestFeedFailureAbandonsCycle(t *testing.T) {
	attempts := 0
	handler := func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}
	s, _, repo := setupScheduler(t, handler, nil)

	s.runCycle(context.Background())

	if attempts != 2 {
		t.Errorf("feed attempts = %d, want bounded retries (2)", attempts)
	}
	if n, _ := repo.CountLedgerEntries(); n != 0 {
		t.Errorf("ledger = %d entries after abandoned cycle, want 0", n)
	}
	if s.state != StateIdle {
		t.Errorf("state = %s, want IDLE so the next interval retries", s.state)
	}
}

func TestPersistenceFailureAbortsBatch(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": []}`)
	}
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	log := logger.New("error")

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	repo := storage.NewRepository(db)

	notifier := telegram.NewNotifier(cfg, log)
	exec := executor.New(repo, notifier, cfg, log)
	feedClient := feed.NewClient(cfg, log)
	engine := risk.NewEngine(cfg.RiskLimits())
	s := NewScheduler(feedClient, engine, exec, nil, repo, notifier, cfg, log)

	// Every write fails from here on.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	significant := []model.SignificantTrade{
		{Trade: model.Trade{Symbol: "AAPL", Type: model.TypeBuy, Shares: 100, Price: 500, SourceID: "s1"}},
		{Trade: model.Trade{Symbol: "MSFT", Type: model.TypeBuy, Shares: 100, Price: 500, SourceID: "s2"}},
	}
	cycleLog := &storage.CycleLog{}
	s.executeBatch(context.Background(), significant, nil, cycleLog)

	// A skip would count both trades and leave Error empty; an abort
	// records the error and never reaches the second trade.
	if cycleLog.Executed != 0 || cycleLog.Skipped != 0 {
		t.Errorf("executed = %d, skipped = %d, want 0 and 0 after abort",
			cycleLog.Executed, cycleLog.Skipped)
	}
	if cycleLog.Error == "" {
		t.Error("abort must record the persistence error")
	}

	// The failed fill must leave no in-memory trace.
	summary := exec.Summarize(nil)
	if summary.CashBalance != 100000 || summary.TradesExecutedToday != 0 || len(summary.Positions) != 0 {
		t.Errorf("portfolio mutated by unpersisted fill: %+v", summary)
	}
}

func TestStopLossSweepLiquidatesFallenPosition(t *testing.T) {
	calls := 0
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprintf(w, `{"data": [%s]}`, record("src-1", 100, 500))
			return
		}
		fmt.Fprint(w, `{"data": []}`)
	}
	quotes := &fixedQuotes{prices: map[string]float64{}}
	s, exec, repo := setupScheduler(t, handler, quotes)

	// Loosen the drawdown breaker and tighten the stop so the price slide
	// below reaches the sweep instead of halting first.
	limits := model.RiskLimits{
		MaxPositionSizeFraction:    0.5,
		MaxDailyTrades:             10,
		MaxConcentrationFraction:   0.6,
		StopLossFraction:           0.05,
		DailyDrawdownLimitFraction: 0.5,
	}
	s.engine = risk.NewEngine(limits)

	s.runCycle(context.Background())
	if len(exec.OpenPositions()) != 1 {
		t.Fatal("expected the first cycle to open an AAPL position")
	}

	// A 20% slide against a 5% stop.
	quotes.prices["AAPL"] = 400

	s.runCycle(context.Background())

	if len(exec.OpenPositions()) != 0 {
		t.Error("stop-loss sweep must liquidate the fallen position")
	}
	entries, err := repo.GetRecentLedger(10)
	if err != nil || len(entries) != 2 {
		t.Fatalf("ledger = %d entries (%v), want buy plus synthetic sell", len(entries), err)
	}
	sell := entries[0]
	if sell.Side != "SELL" || !sell.Synthetic {
		t.Errorf("newest entry = %+v, want synthetic SELL", sell)
	}
	if sell.RealizedPnL != -10000 {
		t.Errorf("realized pnl = %v, want -10000", sell.RealizedPnL)
	}
}
