// Package session holds the trading-session gate and the per-session state
// object that carries the risk halt flag through each cycle's call chain.
package session

import (
	"sync"
	"time"

	"github.com/halverin/opt-trader/internal/config"
)

// Gate decides whether the market is currently open for evaluation.
type Gate interface {
	IsTradingNow() bool
	// InForceCloseWindow reports whether the session is inside the buffer
	// before the close where positions must be flattened.
	InForceCloseWindow() bool
}

// State is created fresh on every session-gate reopen and passed explicitly
// through the cycle. The halt flag is written only by the risk monitor and is
// reset only by a new session, never by time alone.
type State struct {
	Version    int64
	TradingDay string

	mu         sync.Mutex
	halted     bool
	haltReason string
}

func NewState(version int64, day string) *State {
	return &State{Version: version, TradingDay: day}
}

func (s *State) Halt(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.halted {
		s.halted = true
		s.haltReason = reason
	}
}

func (s *State) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

func (s *State) HaltReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haltReason
}

// MarketGate is the production gate: weekdays inside the configured session
// window, in the configured market timezone.
type MarketGate struct {
	loc             *time.Location
	openMinute      int
	closeMinute     int
	forceCloseAhead time.Duration
	now             func() time.Time
}

// NewMarketGate builds a gate from config. A non-nil now func injects a fixed
// clock for deterministic testing.
func NewMarketGate(cfg *config.Config, now func() time.Time) *MarketGate {
	if now == nil {
		now = time.Now
	}
	open, _ := time.Parse("15:04", cfg.Session.OpenTime)
	close_, _ := time.Parse("15:04", cfg.Session.CloseTime)
	return &MarketGate{
		loc:             cfg.MarketLocation(),
		openMinute:      open.Hour()*60 + open.Minute(),
		closeMinute:     close_.Hour()*60 + close_.Minute(),
		forceCloseAhead: cfg.ForceCloseAhead(),
		now:             now,
	}
}

func (g *MarketGate) IsTradingNow() bool {
	t := g.now().In(g.loc)

	weekday := t.Weekday()
	if weekday == time.Saturday || weekday == time.Sunday {
		return false
	}

	minute := t.Hour()*60 + t.Minute()
	return minute >= g.openMinute && minute < g.closeMinute
}

func (g *MarketGate) InForceCloseWindow() bool {
	if !g.IsTradingNow() {
		return false
	}
	t := g.now().In(g.loc)
	minute := t.Hour()*60 + t.Minute()
	buffer := int(g.forceCloseAhead.Minutes())
	return minute >= g.closeMinute-buffer
}
