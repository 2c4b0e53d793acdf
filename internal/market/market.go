package market

import (
	"context"
	"time"
)

// Snapshot is one underlying OHLCV+VIX observation.
type Snapshot struct {
	Underlying string
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	VIX        float64
	Timestamp  time.Time
}

// OptionQuote is a per-contract quote with greeks from the option chain.
type OptionQuote struct {
	Symbol       string
	Underlying   string
	Type         string // CALL or PUT
	Strike       float64
	Expiry       time.Time
	Bid          float64
	Ask          float64
	Last         float64
	Volume       int64
	OpenInterest int64
	Delta        float64
	Theta        float64
	Multiplier   int
}

// Mid returns the bid/ask midpoint, falling back to the last trade when one
// side of the book is empty.
func (q OptionQuote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Spread returns the absolute bid/ask spread.
func (q OptionQuote) Spread() float64 {
	if q.Ask <= 0 || q.Bid <= 0 {
		return 0
	}
	return q.Ask - q.Bid
}

// Provider is the market-data capability consumed by the bot.
type Provider interface {
	LatestSnapshot(ctx context.Context, underlying string) (*Snapshot, error)
	OptionChainQuotes(ctx context.Context, underlying string) ([]OptionQuote, error)
}

// Fill is the result of an executed order.
type Fill struct {
	OrderID  string
	Price    float64
	Quantity int64
}
