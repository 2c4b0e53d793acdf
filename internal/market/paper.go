package market

import (
	"context"
	"fmt"
	"unicode"

	"github.com/google/uuid"

	"github.com/halverin/opt-trader/internal/logger"
)

// PaperExecutor simulates fills against live quotes: every order fills in
// full at the contract's current midpoint.
type PaperExecutor struct {
	provider Provider
	logger   *logger.Logger
}

func NewPaperExecutor(provider Provider, log *logger.Logger) *PaperExecutor {
	return &PaperExecutor{provider: provider, logger: log}
}

func (e *PaperExecutor) PlaceOrder(ctx context.Context, symbol, side string, qty int64) (*Fill, error) {
	underlying := occUnderlying(symbol)
	if underlying == "" {
		return nil, fmt.Errorf("paper: cannot derive underlying from %q", symbol)
	}

	quotes, err := e.provider.OptionChainQuotes(ctx, underlying)
	if err != nil {
		return nil, fmt.Errorf("paper: fetch chain for %s: %w", underlying, err)
	}

	for _, q := range quotes {
		if q.Symbol != symbol {
			continue
		}
		price := q.Mid()
		if price <= 0 {
			return nil, fmt.Errorf("paper: no usable quote for %s", symbol)
		}
		fill := &Fill{OrderID: uuid.NewString(), Price: price, Quantity: qty}
		e.logger.Info("paper fill", "symbol", symbol, "side", side, "qty", qty, "price", price)
		return fill, nil
	}
	return nil, fmt.Errorf("paper: contract %s not found in chain", symbol)
}

// occUnderlying extracts the underlying ticker from an OCC option symbol,
// e.g. SPY240920C00450000 -> SPY.
func occUnderlying(symbol string) string {
	for i, r := range symbol {
		if unicode.IsDigit(r) {
			return symbol[:i]
		}
	}
	return ""
}
