package executor_test

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/mirrorlabs/insider-mirror/internal/config"
	"github.com/mirrorlabs/insider-mirror/internal/executor"
	"github.com/mirrorlabs/insider-mirror/internal/logger"
	"github.com/mirrorlabs/insider-mirror/internal/model"
	"github.com/mirrorlabs/insider-mirror/internal/risk"
	"github.com/mirrorlabs/insider-mirror/internal/storage"
	"github.com/mirrorlabs/insider-mirror/internal/telegram"
)

func setup(t *testing.T, mode string, initialCash float64) (*executor.Executor, *storage.Repository) {
	t.Helper()

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	repo := storage.NewRepository(db)

	cfg := &config.Config{}
	cfg.Trading.Mode = mode
	cfg.Trading.InitialCash = initialCash
	log := logger.New("error")
	notifier := telegram.NewNotifier(cfg, log)

	return executor.New(repo, notifier, cfg, log), repo
}

func buy(symbol string, shares int64, price float64, sourceID string) model.Trade {
	return model.Trade{Symbol: symbol, Type: model.TypeBuy, Shares: shares, Price: price, SourceID: sourceID}
}

func sell(symbol string, shares int64, price float64, sourceID string) model.Trade {
	return model.Trade{Symbol: symbol, Type: model.TypeSell, Shares: shares, Price: price, SourceID: sourceID}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBuyUpdatesAverageCost(t *testing.T) {
	exec, _ := setup(t, "paper", 100000)

	if _, err := exec.Execute(buy("AAPL", 100, 50, "s1"), 100); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := exec.Execute(buy("AAPL", 100, 70, "s2"), 100); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	positions := exec.OpenPositions()
	if len(positions) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(positions))
	}
	pos := positions[0]
	if pos.Quantity != 200 {
		t.Errorf("quantity = %d, want 200", pos.Quantity)
	}
	if !approx(pos.AverageCost, 60) {
		t.Errorf("average cost = %v, want 60", pos.AverageCost)
	}
}

func TestCostBasisIsVolumeWeighted(t *testing.T) {
	exec, _ := setup(t, "paper", 1e9)

	fills := []struct {
		shares int64
		price  float64
	}{
		{100, 10}, {250, 12.5}, {50, 8.25}, {400, 11.75}, {1, 100},
	}

	var totalCost float64
	var totalShares int64
	for i, f := range fills {
		if _, err := exec.Execute(buy("NVDA", f.shares, f.price, "fill"+string(rune('a'+i))), f.shares); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
		totalCost += float64(f.shares) * f.price
		totalShares += f.shares
	}

	pos := exec.OpenPositions()[0]
	want := totalCost / float64(totalShares)
	if !approx(pos.AverageCost, want) {
		t.Errorf("average cost = %v, want %v", pos.AverageCost, want)
	}
}

func TestSellRealizesPnLAndKeepsAverageCost(t *testing.T) {
	exec, _ := setup(t, "paper", 100000)

	if _, err := exec.Execute(buy("AAPL", 100, 50, "s1"), 100); err != nil {
		t.Fatalf("buy: %v", err)
	}
	entry, err := exec.Execute(sell("AAPL", 40, 60, "s2"), 40)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	if !approx(entry.RealizedPnL, 400) { // 40 × (60 − 50)
		t.Errorf("realized pnl = %v, want 400", entry.RealizedPnL)
	}
	if entry.PositionQuantity != 60 {
		t.Errorf("remaining quantity = %d, want 60", entry.PositionQuantity)
	}
	if !approx(entry.PositionAvgCost, 50) {
		t.Errorf("average cost changed on sell: %v, want 50", entry.PositionAvgCost)
	}
}

func TestSellTruncatesAndNeverShorts(t *testing.T) {
	exec, _ := setup(t, "paper", 100000)

	if _, err := exec.Execute(buy("AAPL", 100, 50, "s1"), 100); err != nil {
		t.Fatalf("buy: %v", err)
	}

	entry, err := exec.Execute(sell("AAPL", 150, 55, "s2"), 150)
	if err != nil {
		t.Fatalf("oversized sell: %v", err)
	}
	if entry.Quantity != 100 {
		t.Errorf("sold quantity = %d, want truncation to 100", entry.Quantity)
	}
	if !entry.Truncated {
		t.Error("ledger entry must record the truncation")
	}
	if entry.PositionQuantity != 0 {
		t.Errorf("position quantity = %d, want 0 (closed)", entry.PositionQuantity)
	}

	// Closed, not deleted: a further sell finds the position at zero and is
	// rejected rather than shorting.
	if _, err := exec.Execute(sell("AAPL", 10, 55, "s3"), 10); !errors.Is(err, executor.ErrNoPosition) {
		t.Errorf("sell on closed position: err = %v, want ErrNoPosition", err)
	}
	if len(exec.OpenPositions()) != 0 {
		t.Error("closed position must not be listed as open")
	}
}

func TestCashAccounting(t *testing.T) {
	exec, _ := setup(t, "live", 10000)

	if _, err := exec.Execute(buy("AAPL", 100, 50, "s1"), 100); err != nil {
		t.Fatalf("buy: %v", err)
	}
	summary := exec.Summarize(nil)
	if !approx(summary.CashBalance, 5000) {
		t.Errorf("cash after buy = %v, want 5000", summary.CashBalance)
	}

	if _, err := exec.Execute(sell("AAPL", 100, 60, "s2"), 100); err != nil {
		t.Fatalf("sell: %v", err)
	}
	summary = exec.Summarize(nil)
	if !approx(summary.CashBalance, 11000) {
		t.Errorf("cash after sell = %v, want 11000", summary.CashBalance)
	}
}

func TestInsufficientCashLiveMode(t *testing.T) {
	exec, repo := setup(t, "live", 1000)

	_, err := exec.Execute(buy("AAPL", 100, 50, "s1"), 100)
	if !errors.Is(err, executor.ErrInsufficientCash) {
		t.Fatalf("err = %v, want ErrInsufficientCash", err)
	}

	// The failed trade must leave no trace.
	n, err := repo.CountLedgerEntries()
	if err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
	summary := exec.Summarize(nil)
	if !approx(summary.CashBalance, 1000) {
		t.Errorf("cash = %v, want untouched 1000", summary.CashBalance)
	}
	if summary.TradesExecutedToday != 0 {
		t.Errorf("trades today = %d, want 0", summary.TradesExecutedToday)
	}
}

func TestPaperModeSkipsCashGate(t *testing.T) {
	exec, _ := setup(t, "paper", 1000)

	if _, err := exec.Execute(buy("AAPL", 100, 50, "s1"), 100); err != nil {
		t.Fatalf("paper-mode buy must not fail on cash: %v", err)
	}
	summary := exec.Summarize(nil)
	if !approx(summary.CashBalance, -4000) {
		t.Errorf("cash = %v, want -4000", summary.CashBalance)
	}
}

func TestLedgerAppendOnly(t *testing.T) {
	exec, repo := setup(t, "paper", 100000)

	trades := []model.Trade{
		buy("AAPL", 10, 50, "s1"),
		buy("MSFT", 20, 30, "s2"),
		sell("AAPL", 5, 55, "s3"),
	}

	var prev int64
	for i, tr := range trades {
		if _, err := exec.Execute(tr, tr.Shares); err != nil {
			t.Fatalf("trade %d: %v", i, err)
		}
		n, err := repo.CountLedgerEntries()
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != prev+1 {
			t.Fatalf("ledger grew by %d after trade %d, want exactly 1", n-prev, i)
		}
		prev = n
	}

	summary := exec.Summarize(nil)
	if summary.TradesExecutedToday != 3 {
		t.Errorf("trades today = %d, want 3", summary.TradesExecutedToday)
	}
}

func TestSweepStopLosses(t *testing.T) {
	exec, _ := setup(t, "paper", 100000)
	engine := risk.NewEngine(model.RiskLimits{StopLossFraction: 0.05})

	if _, err := exec.Execute(buy("AAPL", 100, 100, "s1"), 100); err != nil {
		t.Fatalf("buy AAPL: %v", err)
	}
	if _, err := exec.Execute(buy("MSFT", 100, 100, "s2"), 100); err != nil {
		t.Fatalf("buy MSFT: %v", err)
	}

	// AAPL down 10% triggers; MSFT down 1% does not; NVDA quote is noise.
	quotes := map[string]float64{"AAPL": 90, "MSFT": 99, "NVDA": 1}
	if n := exec.SweepStopLosses(engine, quotes); n != 1 {
		t.Fatalf("liquidations = %d, want 1", n)
	}

	open := exec.OpenPositions()
	if len(open) != 1 || open[0].Symbol != "MSFT" {
		t.Fatalf("expected only MSFT to remain open, got %+v", open)
	}

	// Positions without a quote are untouched.
	if n := exec.SweepStopLosses(engine, nil); n != 0 {
		t.Fatalf("sweep without quotes liquidated %d positions", n)
	}
}

func TestResetDayClearsCountersAndHalt(t *testing.T) {
	exec, _ := setup(t, "paper", 100000)

	if _, err := exec.Execute(buy("AAPL", 100, 50, "s1"), 100); err != nil {
		t.Fatalf("buy: %v", err)
	}
	exec.MarkHalted()
	if !exec.Halted() {
		t.Fatal("expected halted")
	}

	exec.ResetDay("2026-08-31", map[string]float64{"AAPL": 60})

	summary := exec.Summarize(map[string]float64{"AAPL": 60})
	if summary.TradesExecutedToday != 0 {
		t.Errorf("trades today = %d, want 0 after reset", summary.TradesExecutedToday)
	}
	if summary.Halted {
		t.Error("halt must clear at the day boundary")
	}
	if exec.TradingDay() != "2026-08-31" {
		t.Errorf("trading day = %q, want 2026-08-31", exec.TradingDay())
	}
	// 95,000 cash + 100 × $60
	if !approx(summary.StartOfDayValue, 101000) {
		t.Errorf("start-of-day value = %v, want 101000", summary.StartOfDayValue)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	repo := storage.NewRepository(db)

	cfg := &config.Config{}
	cfg.Trading.Mode = "paper"
	cfg.Trading.InitialCash = 100000
	log := logger.New("error")
	notifier := telegram.NewNotifier(cfg, log)

	exec := executor.New(repo, notifier, cfg, log)
	if _, err := exec.Execute(buy("AAPL", 100, 50, "s1"), 100); err != nil {
		t.Fatalf("buy: %v", err)
	}
	exec.ResetDay("2026-08-30", nil)
	exec.MarkHalted()
	if err := exec.PersistSnapshot(nil); err != nil {
		t.Fatalf("persist snapshot: %v", err)
	}

	// Fresh executor on the same database must pick up where we left off.
	restored := executor.New(repo, notifier, cfg, log)
	if err := restored.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	want := exec.Summarize(nil)
	got := restored.Summarize(nil)
	if got.CashBalance != want.CashBalance ||
		got.TradesExecutedToday != want.TradesExecutedToday ||
		got.Halted != want.Halted ||
		got.TradingDay != want.TradingDay ||
		len(got.Positions) != len(want.Positions) {
		t.Fatalf("restored summary mismatch:\n got %+v\nwant %+v", got, want)
	}
	if got.Positions[0] != want.Positions[0] {
		t.Fatalf("restored position mismatch: got %+v, want %+v", got.Positions[0], want.Positions[0])
	}
}

func TestRestoreWithoutSnapshotStartsFresh(t *testing.T) {
	exec, _ := setup(t, "paper", 42000)
	if err := exec.Restore(); err != nil {
		t.Fatalf("restore on empty db: %v", err)
	}
	summary := exec.Summarize(nil)
	if !approx(summary.CashBalance, 42000) {
		t.Errorf("cash = %v, want initial 42000", summary.CashBalance)
	}
}
