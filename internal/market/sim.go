package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimProvider replays scripted snapshots and option chains, one step per
// LatestSnapshot call. Used in sandbox mode and by tests.
type SimProvider struct {
	mu     sync.Mutex
	steps  map[string][]Snapshot
	chains map[string][]OptionQuote
	cursor map[string]int
}

func NewSimProvider() *SimProvider {
	return &SimProvider{
		steps:  make(map[string][]Snapshot),
		chains: make(map[string][]OptionQuote),
		cursor: make(map[string]int),
	}
}

// Script appends snapshots to the feed for an underlying.
func (p *SimProvider) Script(underlying string, snapshots ...Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps[underlying] = append(p.steps[underlying], snapshots...)
}

// SetChain replaces the option chain returned for an underlying.
func (p *SimProvider) SetChain(underlying string, quotes []OptionQuote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chains[underlying] = quotes
}

func (p *SimProvider) LatestSnapshot(_ context.Context, underlying string) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	steps := p.steps[underlying]
	if len(steps) == 0 {
		return nil, fmt.Errorf("sim: no snapshots scripted for %s", underlying)
	}

	i := p.cursor[underlying]
	if i >= len(steps) {
		i = len(steps) - 1 // feed exhausted, hold last value
	} else {
		p.cursor[underlying] = i + 1
	}

	snap := steps[i]
	snap.Underlying = underlying
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	return &snap, nil
}

func (p *SimProvider) OptionChainQuotes(_ context.Context, underlying string) ([]OptionQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chains[underlying], nil
}

// SetQuotePrice adjusts bid/ask/last of one contract in place, for scripting
// price paths on an open position.
func (p *SimProvider) SetQuotePrice(underlying, symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	quotes := p.chains[underlying]
	for i := range quotes {
		if quotes[i].Symbol == symbol {
			quotes[i].Bid = price
			quotes[i].Ask = price
			quotes[i].Last = price
		}
	}
}

// SimExecutor fills market orders at a scripted price. Orders fail when a
// failure is armed, which the lifecycle engine must survive.
type SimExecutor struct {
	mu        sync.Mutex
	prices    map[string]float64
	failNext  int
	placedIDs []string
}

func NewSimExecutor() *SimExecutor {
	return &SimExecutor{prices: make(map[string]float64)}
}

// SetPrice sets the fill price for a contract symbol.
func (e *SimExecutor) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// FailNext makes the next n orders return an error.
func (e *SimExecutor) FailNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = n
}

// PlacedOrders returns the IDs of all successfully placed orders.
func (e *SimExecutor) PlacedOrders() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.placedIDs...)
}

func (e *SimExecutor) PlaceOrder(_ context.Context, symbol, side string, qty int64) (*Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failNext > 0 {
		e.failNext--
		return nil, fmt.Errorf("sim: order rejected for %s %s", side, symbol)
	}

	price, ok := e.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("sim: no price for %s", symbol)
	}

	id := uuid.NewString()
	e.placedIDs = append(e.placedIDs, id)
	return &Fill{OrderID: id, Price: price, Quantity: qty}, nil
}
