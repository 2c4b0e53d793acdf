package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteMid(t *testing.T) {
	assert.Equal(t, 5.1, OptionQuote{Bid: 5.0, Ask: 5.2, Last: 4.0}.Mid())
	// One-sided book falls back to last
	assert.Equal(t, 4.0, OptionQuote{Bid: 0, Ask: 5.2, Last: 4.0}.Mid())
}

func TestQuoteSpread(t *testing.T) {
	assert.InDelta(t, 0.2, OptionQuote{Bid: 5.0, Ask: 5.2}.Spread(), 1e-9)
	assert.Equal(t, 0.0, OptionQuote{Bid: 0, Ask: 5.2}.Spread())
}

func TestOCCUnderlying(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"SPY240920C00450000", "SPY"},
		{"QQQ261218P00400000", "QQQ"},
		{"A240920C00100000", "A"},
		{"123456", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, occUnderlying(tt.symbol), tt.symbol)
	}
}

func TestSimProviderHoldsLastValue(t *testing.T) {
	p := NewSimProvider()
	p.Script("SPY", Snapshot{Close: 450}, Snapshot{Close: 455})

	ctx := context.Background()
	for _, want := range []float64{450, 455, 455, 455} {
		snap, err := p.LatestSnapshot(ctx, "SPY")
		require.NoError(t, err)
		assert.Equal(t, want, snap.Close)
		assert.Equal(t, "SPY", snap.Underlying)
	}

	_, err := p.LatestSnapshot(ctx, "QQQ")
	assert.Error(t, err)
}

func TestSimExecutorFailNext(t *testing.T) {
	e := NewSimExecutor()
	e.SetPrice("SPY240920C00450000", 10.0)
	e.FailNext(1)

	ctx := context.Background()
	_, err := e.PlaceOrder(ctx, "SPY240920C00450000", "SELL", 1)
	require.Error(t, err)

	fill, err := e.PlaceOrder(ctx, "SPY240920C00450000", "SELL", 1)
	require.NoError(t, err)
	assert.Equal(t, 10.0, fill.Price)
	assert.Equal(t, int64(1), fill.Quantity)
	assert.NotEmpty(t, fill.OrderID)
	assert.Len(t, e.PlacedOrders(), 1)
}
