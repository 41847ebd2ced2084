package model

// RiskLimits is the read-only risk configuration for a trading day. All
// fractions are in [0, 1].
type RiskLimits struct {
	MaxPositionSizeFraction    float64
	MaxDailyTrades             int
	MaxConcentrationFraction   float64
	StopLossFraction           float64
	DailyDrawdownLimitFraction float64
}

// Position is one holding. AverageCost is meaningless once Quantity is 0;
// closed positions stay in the map with Quantity 0 for continuity.
type Position struct {
	Symbol      string  `json:"symbol"`
	Quantity    int64   `json:"quantity"`
	AverageCost float64 `json:"average_cost"`
}

// PortfolioState is the full mutable portfolio. It is owned by the
// execution engine; every other component sees it only through View
// snapshots or summary copies.
type PortfolioState struct {
	Positions           map[string]Position
	CashBalance         float64
	StartOfDayValue     float64
	TradesExecutedToday int
	Halted              bool
	TradingDay          string // YYYY-MM-DD, the day the counters belong to
}

func NewPortfolioState(initialCash float64) *PortfolioState {
	return &PortfolioState{
		Positions:       make(map[string]Position),
		CashBalance:     initialCash,
		StartOfDayValue: initialCash,
	}
}

// Value prices the portfolio with the given quotes, falling back to a
// position's average cost when no quote is available.
func (p *PortfolioState) Value(quotes map[string]float64) float64 {
	total := p.CashBalance
	for sym, pos := range p.Positions {
		if pos.Quantity == 0 {
			continue
		}
		price := pos.AverageCost
		if q, ok := quotes[sym]; ok && q > 0 {
			price = q
		}
		total += float64(pos.Quantity) * price
	}
	return total
}

// View is a read-only snapshot of the portfolio facts the risk engine
// needs. It is a value copy; mutating it has no effect on the portfolio.
type View struct {
	Value               float64
	CashBalance         float64
	SymbolQuantity      int64
	SymbolExposure      float64
	StartOfDayValue     float64
	TradesExecutedToday int
	Halted              bool
}

// ViewFor builds the risk-engine snapshot for one symbol, pricing the
// existing exposure at the given price.
func (p *PortfolioState) ViewFor(symbol string, price float64, quotes map[string]float64) View {
	pos := p.Positions[symbol]
	return View{
		Value:               p.Value(quotes),
		CashBalance:         p.CashBalance,
		SymbolQuantity:      pos.Quantity,
		SymbolExposure:      float64(pos.Quantity) * price,
		StartOfDayValue:     p.StartOfDayValue,
		TradesExecutedToday: p.TradesExecutedToday,
		Halted:              p.Halted,
	}
}
