package report

import (
	"encoding/json"
	"math"
	"time"

	"github.com/mirrorlabs/insider-mirror/internal/storage"
)

// Window is the aggregate handed to an external renderer. It is recomputed
// from the ledger on every request, never cached.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	TotalTrades   int     `json:"total_trades"`
	ClosingTrades int     `json:"closing_trades"`
	WinningTrades int     `json:"winning_trades"`
	RealizedPnL   float64 `json:"realized_pnl"`

	WinRate float64 `json:"win_rate"`

	// ProfitFactor is math.Inf(1) when the window has profits but no
	// losing trades; JSON renders it as the string "inf".
	ProfitFactor float64 `json:"-"`

	MaxDrawdown float64 `json:"max_drawdown"`

	// Sharpe is nil when the window spans fewer than two trading days.
	Sharpe *float64 `json:"sharpe"`
}

// MarshalJSON renders the infinite profit-factor sentinel as "inf", which
// standard JSON numbers cannot carry.
func (w Window) MarshalJSON() ([]byte, error) {
	type alias Window
	out := struct {
		alias
		ProfitFactor any `json:"profit_factor"`
	}{alias: alias(w)}
	if math.IsInf(w.ProfitFactor, 1) {
		out.ProfitFactor = "inf"
	} else {
		out.ProfitFactor = w.ProfitFactor
	}
	return json.Marshal(out)
}

// Aggregate computes the window metrics over entries whose timestamp falls
// in [from, to). Entries are expected in execution order, which is how the
// repository returns them.
func Aggregate(entries []storage.LedgerEntry, from, to time.Time) Window {
	w := Window{From: from, To: to}

	var grossProfit, grossLoss float64
	var cumulative, peak, maxDrawdown float64
	dailyPnL := make(map[string]float64)
	var dayOrder []string

	for _, e := range entries {
		if e.ExecutedAt.Before(from) || !e.ExecutedAt.Before(to) {
			continue
		}
		w.TotalTrades++

		if e.Side != "SELL" {
			continue
		}

		w.ClosingTrades++
		w.RealizedPnL += e.RealizedPnL
		if e.RealizedPnL > 0 {
			w.WinningTrades++
			grossProfit += e.RealizedPnL
		} else if e.RealizedPnL < 0 {
			grossLoss += -e.RealizedPnL
		}

		cumulative += e.RealizedPnL
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDrawdown {
			maxDrawdown = dd
		}

		day := e.ExecutedAt.UTC().Format("2006-01-02")
		if _, seen := dailyPnL[day]; !seen {
			dayOrder = append(dayOrder, day)
		}
		dailyPnL[day] += e.RealizedPnL
	}

	if w.ClosingTrades > 0 {
		w.WinRate = float64(w.WinningTrades) / float64(w.ClosingTrades)
	}

	switch {
	case grossLoss > 0:
		w.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		w.ProfitFactor = math.Inf(1)
	}

	w.MaxDrawdown = maxDrawdown
	w.Sharpe = sharpe(dayOrder, dailyPnL)

	return w
}

// sharpe is mean over population standard deviation of the daily realized
// PnL series. Undefined (nil) below two sub-periods or at zero variance.
func sharpe(days []string, dailyPnL map[string]float64) *float64 {
	if len(days) < 2 {
		return nil
	}

	var mean float64
	for _, d := range days {
		mean += dailyPnL[d]
	}
	mean /= float64(len(days))

	var variance float64
	for _, d := range days {
		diff := dailyPnL[d] - mean
		variance += diff * diff
	}
	variance /= float64(len(days))

	if variance == 0 {
		return nil
	}
	s := mean / math.Sqrt(variance)
	return &s
}
