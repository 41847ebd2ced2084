package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mirrorlabs/insider-mirror/internal/config"
	"github.com/mirrorlabs/insider-mirror/internal/logger"
	"github.com/mirrorlabs/insider-mirror/internal/model"
	"github.com/mirrorlabs/insider-mirror/internal/risk"
	"github.com/mirrorlabs/insider-mirror/internal/storage"
	"github.com/mirrorlabs/insider-mirror/internal/telegram"
)

var (
	// ErrInsufficientCash is fatal for one trade only; the caller skips it
	// and continues with the rest of the batch.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrNoPosition rejects a sell against a symbol with nothing held.
	ErrNoPosition = errors.New("no open position")

	// ErrUnsupportedSide rejects trade types that never reach execution.
	ErrUnsupportedSide = errors.New("unsupported trade side")
)

// PersistenceError wraps a ledger write failure. It is cycle-fatal: the
// in-memory fill is rolled back and the caller must not execute further
// trades on top of an unpersisted one.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger persistence: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Executor is the single writer of the portfolio state and the ledger.
// Every other component reads through snapshot copies taken under the lock.
type Executor struct {
	mu        sync.RWMutex
	portfolio *model.PortfolioState
	repo      *storage.Repository
	notifier  *telegram.Notifier
	paper     bool
	logger    *logger.Logger
}

func New(repo *storage.Repository, notifier *telegram.Notifier, cfg *config.Config, log *logger.Logger) *Executor {
	return &Executor{
		portfolio: model.NewPortfolioState(cfg.Trading.InitialCash),
		repo:      repo,
		notifier:  notifier,
		paper:     cfg.IsPaper(),
		logger:    log,
	}
}

// Restore loads the latest persisted snapshot, if any. Called once before
// the first cycle; without a snapshot the portfolio starts fresh.
func (e *Executor) Restore() error {
	snapshot, err := e.repo.GetLatestSnapshot()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}

	var positions []model.Position
	if snapshot.PositionsJSON != "" {
		if err := json.Unmarshal([]byte(snapshot.PositionsJSON), &positions); err != nil {
			return fmt.Errorf("decode snapshot positions: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.portfolio.Positions = make(map[string]model.Position, len(positions))
	for _, p := range positions {
		e.portfolio.Positions[p.Symbol] = p
	}
	e.portfolio.CashBalance = snapshot.CashBalance
	e.portfolio.StartOfDayValue = snapshot.StartOfDayValue
	e.portfolio.TradesExecutedToday = snapshot.TradesExecutedToday
	e.portfolio.Halted = snapshot.Halted
	e.portfolio.TradingDay = snapshot.TradingDay

	e.logger.Info("portfolio restored",
		"positions", len(positions),
		"cash", snapshot.CashBalance,
		"trading_day", snapshot.TradingDay,
		"halted", snapshot.Halted)
	return nil
}

// Execute applies one approved trade. Exactly one ledger row is appended
// per success, and the row is durable before the method returns. The caller
// is trusted to have deduplicated: the same source ID applied twice will
// double-fill.
func (e *Executor) Execute(trade model.Trade, approvedQuantity int64) (storage.LedgerEntry, error) {
	if approvedQuantity <= 0 {
		return storage.LedgerEntry{}, fmt.Errorf("%s: approved quantity must be positive, got %d", trade.Symbol, approvedQuantity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch trade.Type {
	case model.TypeBuy:
		return e.executeBuy(trade, approvedQuantity, false)
	case model.TypeSell:
		return e.executeSell(trade, approvedQuantity, false)
	default:
		return storage.LedgerEntry{}, fmt.Errorf("%s %s: %w", trade.Type, trade.Symbol, ErrUnsupportedSide)
	}
}

func (e *Executor) executeBuy(trade model.Trade, qty int64, synthetic bool) (storage.LedgerEntry, error) {
	cost := float64(qty) * trade.Price
	if !e.paper && cost > e.portfolio.CashBalance {
		return storage.LedgerEntry{}, fmt.Errorf("BUY %d %s at %.2f needs %.2f, have %.2f: %w",
			qty, trade.Symbol, trade.Price, cost, e.portfolio.CashBalance, ErrInsufficientCash)
	}

	pos := e.portfolio.Positions[trade.Symbol]
	pos.Symbol = trade.Symbol

	// Weighted-average cost over all increasing fills.
	oldQty, oldAvg := pos.Quantity, pos.AverageCost
	pos.Quantity = oldQty + qty
	pos.AverageCost = (float64(oldQty)*oldAvg + float64(qty)*trade.Price) / float64(pos.Quantity)

	entry := storage.LedgerEntry{
		ExecutedAt:       time.Now().UTC(),
		Symbol:           trade.Symbol,
		Side:             string(model.TypeBuy),
		Quantity:         qty,
		Price:            trade.Price,
		SourceID:         trade.SourceID,
		Synthetic:        synthetic,
		PositionQuantity: pos.Quantity,
		PositionAvgCost:  pos.AverageCost,
	}
	if err := e.repo.AppendLedgerEntry(&entry); err != nil {
		return storage.LedgerEntry{}, &PersistenceError{Err: err}
	}

	e.portfolio.Positions[trade.Symbol] = pos
	e.portfolio.CashBalance -= cost
	e.portfolio.TradesExecutedToday++

	e.notifier.NotifyExecution("BUY", trade.Symbol, qty, trade.Price, 0)
	e.logger.Info("BUY executed",
		"symbol", trade.Symbol, "quantity", qty, "price", trade.Price,
		"avg_cost", pos.AverageCost, "cash", e.portfolio.CashBalance)
	return entry, nil
}

func (e *Executor) executeSell(trade model.Trade, qty int64, synthetic bool) (storage.LedgerEntry, error) {
	pos, ok := e.portfolio.Positions[trade.Symbol]
	if !ok || pos.Quantity <= 0 {
		return storage.LedgerEntry{}, fmt.Errorf("SELL %s: %w", trade.Symbol, ErrNoPosition)
	}

	truncated := false
	if qty > pos.Quantity {
		// Never sell short.
		qty = pos.Quantity
		truncated = true
	}

	proceeds := float64(qty) * trade.Price
	realized := float64(qty) * (trade.Price - pos.AverageCost)

	// A reducing fill never changes average cost. Closed positions stay in
	// the map at quantity 0.
	pos.Quantity -= qty

	entry := storage.LedgerEntry{
		ExecutedAt:       time.Now().UTC(),
		Symbol:           trade.Symbol,
		Side:             string(model.TypeSell),
		Quantity:         qty,
		Price:            trade.Price,
		SourceID:         trade.SourceID,
		RealizedPnL:      realized,
		Truncated:        truncated,
		Synthetic:        synthetic,
		PositionQuantity: pos.Quantity,
		PositionAvgCost:  pos.AverageCost,
	}
	if err := e.repo.AppendLedgerEntry(&entry); err != nil {
		return storage.LedgerEntry{}, &PersistenceError{Err: err}
	}

	e.portfolio.Positions[trade.Symbol] = pos
	e.portfolio.CashBalance += proceeds
	e.portfolio.TradesExecutedToday++

	e.notifier.NotifyExecution("SELL", trade.Symbol, qty, trade.Price, realized)
	e.logger.Info("SELL executed",
		"symbol", trade.Symbol, "quantity", qty, "price", trade.Price,
		"pnl", realized, "truncated", truncated, "cash", e.portfolio.CashBalance)
	return entry, nil
}

// SweepStopLosses liquidates every open position that has fallen past the
// stop from its average cost, priced at the given live quotes. Positions
// without a quote are left alone. Returns the number of liquidations.
func (e *Executor) SweepStopLosses(engine *risk.Engine, quotes map[string]float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	liquidated := 0
	for _, sym := range e.sortedSymbols() {
		pos := e.portfolio.Positions[sym]
		price, ok := quotes[sym]
		if !ok || !engine.StopLossTriggered(pos, price) {
			continue
		}

		trade := model.Trade{
			Symbol:   sym,
			Type:     model.TypeSell,
			Shares:   pos.Quantity,
			Price:    price,
			SourceID: "stoploss-" + uuid.NewString(),
		}
		if _, err := e.executeSell(trade, pos.Quantity, true); err != nil {
			e.logger.Error("stop-loss sell failed", "symbol", sym, "error", err)
			continue
		}
		e.logger.Warn("stop loss triggered",
			"symbol", sym, "avg_cost", pos.AverageCost, "price", price)
		liquidated++
	}
	return liquidated
}

// ResetDay crosses a day boundary: counters reset, the start-of-day value
// re-anchors to the current valuation, and a drawdown halt clears.
func (e *Executor) ResetDay(day string, quotes map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.portfolio.StartOfDayValue = e.portfolio.Value(quotes)
	e.portfolio.TradesExecutedToday = 0
	e.portfolio.Halted = false
	e.portfolio.TradingDay = day

	e.logger.Info("day boundary crossed",
		"trading_day", day, "start_of_day_value", e.portfolio.StartOfDayValue)
}

// MarkHalted latches the drawdown circuit breaker until the next day reset.
func (e *Executor) MarkHalted() {
	e.mu.Lock()
	e.portfolio.Halted = true
	e.mu.Unlock()
}

func (e *Executor) Halted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.portfolio.Halted
}

func (e *Executor) TradingDay() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.portfolio.TradingDay
}

// ViewFor snapshots the risk-engine view for one proposed trade.
func (e *Executor) ViewFor(symbol string, price float64, quotes map[string]float64) model.View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.portfolio.ViewFor(symbol, price, quotes)
}

// OpenPositions returns a sorted value copy of every position with a
// non-zero quantity.
func (e *Executor) OpenPositions() []model.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	positions := make([]model.Position, 0, len(e.portfolio.Positions))
	for _, sym := range e.sortedSymbols() {
		if pos := e.portfolio.Positions[sym]; pos.Quantity > 0 {
			positions = append(positions, pos)
		}
	}
	return positions
}

// Summary is the read-only portfolio view served to external readers.
type Summary struct {
	TotalValue          float64          `json:"total_value"`
	CashBalance         float64          `json:"cash_balance"`
	StartOfDayValue     float64          `json:"start_of_day_value"`
	TradesExecutedToday int              `json:"trades_executed_today"`
	Halted              bool             `json:"halted"`
	TradingDay          string           `json:"trading_day"`
	Positions           []model.Position `json:"positions"`
}

func (e *Executor) Summarize(quotes map[string]float64) Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	positions := make([]model.Position, 0, len(e.portfolio.Positions))
	for _, sym := range e.sortedSymbols() {
		if pos := e.portfolio.Positions[sym]; pos.Quantity > 0 {
			positions = append(positions, pos)
		}
	}
	return Summary{
		TotalValue:          e.portfolio.Value(quotes),
		CashBalance:         e.portfolio.CashBalance,
		StartOfDayValue:     e.portfolio.StartOfDayValue,
		TradesExecutedToday: e.portfolio.TradesExecutedToday,
		Halted:              e.portfolio.Halted,
		TradingDay:          e.portfolio.TradingDay,
		Positions:           positions,
	}
}

// PersistSnapshot writes the durable recovery point. Called at the end of
// every executing phase.
func (e *Executor) PersistSnapshot(quotes map[string]float64) error {
	e.mu.RLock()

	positions := make([]model.Position, 0, len(e.portfolio.Positions))
	openCount := 0
	for _, sym := range e.sortedSymbols() {
		pos := e.portfolio.Positions[sym]
		positions = append(positions, pos)
		if pos.Quantity > 0 {
			openCount++
		}
	}
	positionsJSON, _ := json.Marshal(positions)

	snapshot := &storage.PortfolioSnapshot{
		TradingDay:          e.portfolio.TradingDay,
		CashBalance:         e.portfolio.CashBalance,
		StartOfDayValue:     e.portfolio.StartOfDayValue,
		TotalValue:          e.portfolio.Value(quotes),
		TradesExecutedToday: e.portfolio.TradesExecutedToday,
		Halted:              e.portfolio.Halted,
		PositionsCount:      openCount,
		PositionsJSON:       string(positionsJSON),
	}
	e.mu.RUnlock()

	if err := e.repo.SaveSnapshot(snapshot); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// sortedSymbols keeps iteration order deterministic. Caller holds the lock.
func (e *Executor) sortedSymbols() []string {
	symbols := make([]string, 0, len(e.portfolio.Positions))
	for sym := range e.portfolio.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
