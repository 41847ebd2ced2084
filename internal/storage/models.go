package storage

import "time"

// LedgerEntry is one executed mirror action. Rows are append-only: they are
// created once and never updated or deleted.
type LedgerEntry struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ExecutedAt time.Time `gorm:"index;not null" json:"executed_at"`
	Symbol     string    `gorm:"index;not null" json:"symbol"`
	Side       string    `gorm:"not null" json:"side"` // BUY or SELL
	Quantity   int64     `gorm:"not null" json:"quantity"`
	Price      float64   `gorm:"not null" json:"price"`
	SourceID   string    `gorm:"index" json:"source_id"`

	// Realized PnL for a SELL, computed against the average cost at time
	// of sale. Always 0 for a BUY.
	RealizedPnL float64 `gorm:"column:realized_pnl" json:"realized_pnl"`

	Truncated bool `json:"truncated"` // sell was cut down to the held quantity
	Synthetic bool `json:"synthetic"` // stop-loss liquidation, not a mirrored filing

	// Position snapshot after the fill.
	PositionQuantity int64   `json:"position_quantity"`
	PositionAvgCost  float64 `json:"position_avg_cost"`
}

// PortfolioSnapshot is the durable portfolio state written after every
// executing phase. The newest row is the restart recovery point.
type PortfolioSnapshot struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	TradingDay          string  `gorm:"index" json:"trading_day"`
	CashBalance         float64 `json:"cash_balance"`
	StartOfDayValue     float64 `json:"start_of_day_value"`
	TotalValue          float64 `json:"total_value"`
	TradesExecutedToday int     `json:"trades_executed_today"`
	Halted              bool    `json:"halted"`
	PositionsCount      int     `json:"positions_count"`
	PositionsJSON       string  `gorm:"type:text" json:"positions_json"`
}

// CycleLog records one scheduler cycle for diagnostics.
type CycleLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Fetched     int    `json:"fetched"`
	Significant int    `json:"significant"`
	Executed    int    `json:"executed"`
	Denied      int    `json:"denied"`
	Skipped     int    `json:"skipped"`
	Error       string `json:"error"`
}
