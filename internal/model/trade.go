package model

import (
	"fmt"
	"time"
)

// TransactionType classifies an insider filing.
type TransactionType string

const (
	TypeBuy            TransactionType = "BUY"
	TypeSell           TransactionType = "SELL"
	TypeOptionExercise TransactionType = "OPTION_EXERCISE"
	TypeGift           TransactionType = "GIFT"
	TypeOther          TransactionType = "OTHER"
)

// ParseTransactionType maps provider transaction codes onto the canonical
// set. Single-letter SEC form-4 codes are accepted alongside spelled-out
// names; anything unrecognized becomes TypeOther.
func ParseTransactionType(raw string) TransactionType {
	switch raw {
	case "BUY", "P", "P-Purchase":
		return TypeBuy
	case "SELL", "S", "S-Sale":
		return TypeSell
	case "OPTION_EXERCISE", "M", "M-Exempt":
		return TypeOptionExercise
	case "GIFT", "G":
		return TypeGift
	default:
		return TypeOther
	}
}

// Trade is a canonical insider transaction. Immutable once built; Value is
// always derived from Shares and Price, never supplied by a caller.
type Trade struct {
	Symbol     string
	Type       TransactionType
	Shares     int64
	Price      float64
	FilingDate time.Time
	SourceID   string
}

func NewTrade(symbol string, typ TransactionType, shares int64, price float64, filed time.Time, sourceID string) (Trade, error) {
	if symbol == "" {
		return Trade{}, fmt.Errorf("trade: empty symbol")
	}
	if shares <= 0 {
		return Trade{}, fmt.Errorf("trade %s: shares must be positive, got %d", symbol, shares)
	}
	if price <= 0 {
		return Trade{}, fmt.Errorf("trade %s: price must be positive, got %v", symbol, price)
	}
	if sourceID == "" {
		return Trade{}, fmt.Errorf("trade %s: empty source id", symbol)
	}
	return Trade{
		Symbol:     symbol,
		Type:       typ,
		Shares:     shares,
		Price:      price,
		FilingDate: filed,
		SourceID:   sourceID,
	}, nil
}

// Value is the notional of the filing in dollars.
func (t Trade) Value() float64 {
	return float64(t.Shares) * t.Price
}

// SignificantTrade is a Trade that passed the significance filter. The
// mirror decision is filled in later by the risk engine.
type SignificantTrade struct {
	Trade
	MirrorDecision string
}
