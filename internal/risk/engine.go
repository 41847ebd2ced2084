package risk

import (
	"fmt"
	"math"

	"github.com/mirrorlabs/insider-mirror/internal/model"
)

// DenialReason identifies which limit rejected a trade.
type DenialReason string

const (
	DenialDailyTradeCap    DenialReason = "DAILY_TRADE_CAP"
	DenialDrawdownHalt     DenialReason = "DRAWDOWN_HALT"
	DenialPositionSizeZero DenialReason = "POSITION_SIZE_ZERO"
	DenialConcentrationCap DenialReason = "CONCENTRATION_CAP"
)

// Denial is a terminal decision for one trade. It is expected behavior, not
// an error, and carries enough context to reconstruct the decision later.
type Denial struct {
	Reason   DenialReason
	Symbol   string
	Quantity int64
}

func (d *Denial) String() string {
	return fmt.Sprintf("%s denied %d %s", d.Reason, d.Quantity, d.Symbol)
}

// Engine applies portfolio-level limits to proposed trades. It is purely
// advisory: it reads a snapshot and mutates nothing.
type Engine struct {
	limits model.RiskLimits
}

func NewEngine(limits model.RiskLimits) *Engine {
	return &Engine{limits: limits}
}

// Admit evaluates the fixed check sequence; the first failing check wins.
//
//  1. daily trade cap
//  2. daily drawdown circuit breaker (sticky until the next day boundary)
//  3. position sizing (reduce, or deny when even one share is too large)
//  4. concentration cap (reduce, or deny when even one share breaches it)
//
// Sizing and concentration bound buying exposure only; a SELL that clears
// the first two checks is admitted at its proposed quantity and the
// execution engine truncates it to the held amount.
func (e *Engine) Admit(trade model.Trade, view model.View) (int64, *Denial) {
	deny := func(reason DenialReason) (int64, *Denial) {
		return 0, &Denial{Reason: reason, Symbol: trade.Symbol, Quantity: trade.Shares}
	}

	if view.TradesExecutedToday >= e.limits.MaxDailyTrades {
		return deny(DenialDailyTradeCap)
	}

	if view.Halted || e.drawdownBreached(view) {
		return deny(DenialDrawdownHalt)
	}

	if trade.Type == model.TypeSell {
		return trade.Shares, nil
	}

	approved := trade.Shares

	maxShares := int64(math.Floor(e.limits.MaxPositionSizeFraction * view.Value / trade.Price))
	if maxShares <= 0 {
		return deny(DenialPositionSizeZero)
	}
	if approved > maxShares {
		approved = maxShares
	}

	// Largest quantity keeping post-trade exposure at or below the cap.
	capValue := e.limits.MaxConcentrationFraction * view.Value
	room := int64(math.Floor((capValue - view.SymbolExposure) / trade.Price))
	if room <= 0 {
		return deny(DenialConcentrationCap)
	}
	if approved > room {
		approved = room
	}

	return approved, nil
}

// DrawdownBreached reports whether today's loss has crossed the daily
// limit. The scheduler uses it to latch the HALTED state.
func (e *Engine) DrawdownBreached(view model.View) bool {
	return e.drawdownBreached(view)
}

func (e *Engine) drawdownBreached(view model.View) bool {
	if view.StartOfDayValue <= 0 {
		return false
	}
	change := (view.Value - view.StartOfDayValue) / view.StartOfDayValue
	return change <= -e.limits.DailyDrawdownLimitFraction
}

// StopLossTriggered reports whether an open position has fallen past the
// per-trade stop from its average cost.
func (e *Engine) StopLossTriggered(pos model.Position, currentPrice float64) bool {
	if pos.Quantity <= 0 || pos.AverageCost <= 0 || currentPrice <= 0 {
		return false
	}
	change := (currentPrice - pos.AverageCost) / pos.AverageCost
	return change <= -e.limits.StopLossFraction
}
