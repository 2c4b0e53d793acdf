// Package risk evaluates account and market risk once per cycle and turns
// breaches into persisted risk events and force-close requests.
package risk

import (
	"fmt"

	"github.com/halverin/opt-trader/internal/config"
	"github.com/halverin/opt-trader/internal/logger"
	"github.com/halverin/opt-trader/internal/market"
	"github.com/halverin/opt-trader/internal/session"
	"github.com/halverin/opt-trader/internal/storage"
)

// ForceCloseRequest asks the position engine to close a position on its next
// refresh. The monitor never closes positions itself.
type ForceCloseRequest struct {
	PositionID uint
	Reason     string
}

type Monitor struct {
	repo   *storage.Repository
	cfg    *config.Config
	logger *logger.Logger
}

func NewMonitor(repo *storage.Repository, cfg *config.Config, log *logger.Logger) *Monitor {
	return &Monitor{repo: repo, cfg: cfg, logger: log}
}

// Assess runs all risk checks against the current cycle's state. Every
// detected breach is persisted as a risk event. Any HIGH severity event
// forces closure of all open positions and halts the session.
func (m *Monitor) Assess(
	positions []storage.PositionRecord,
	balance *storage.AccountBalance,
	stat *storage.DailyStat,
	snap *market.Snapshot,
	failedCloses func(positionID uint) int,
	st *session.State,
) ([]storage.RiskEvent, []ForceCloseRequest) {
	var events []storage.RiskEvent
	var requests []ForceCloseRequest

	if ev := m.checkDrawdown(balance, stat, snap); ev != nil {
		events = append(events, *ev)
	}
	if ev := m.checkVIX(snap); ev != nil {
		events = append(events, *ev)
	}

	for i := range positions {
		pos := &positions[i]
		if ev, req := m.checkPositionLoss(pos, snap); ev != nil {
			events = append(events, *ev)
			if req != nil {
				requests = append(requests, *req)
			}
		}
		if ev := m.checkFailedCloses(pos, failedCloses); ev != nil {
			events = append(events, *ev)
		}
	}

	// A HIGH severity breach supersedes everything: close every open
	// position and halt new opens until the next session open.
	if reason := highestReason(events); reason != "" {
		requests = requests[:0]
		for i := range positions {
			requests = append(requests, ForceCloseRequest{
				PositionID: positions[i].ID,
				Reason:     reason,
			})
		}
		if st != nil {
			st.Halt(reason)
		}
		m.logger.Error("HIGH risk breach, halting and force-closing all positions",
			"reason", reason, "positions", len(positions))
	}

	for i := range events {
		if err := m.repo.SaveRiskEvent(&events[i]); err != nil {
			m.logger.Error("save risk event", "type", events[i].EventType, "error", err)
		}
	}

	return events, requests
}

// CanOpen reports whether the volatility regime permits new positions.
// Opens are blocked both in panic regimes and when volatility is too low to
// pay for the premium.
func (m *Monitor) CanOpen(snap *market.Snapshot) (bool, string) {
	if snap == nil {
		return false, "no market snapshot"
	}
	if snap.VIX > 0 && snap.VIX < m.cfg.Risk.MinVIX {
		return false, fmt.Sprintf("VIX %.1f below minimum %.1f", snap.VIX, m.cfg.Risk.MinVIX)
	}
	if snap.VIX > m.cfg.Risk.MaxVIX {
		return false, fmt.Sprintf("VIX %.1f above maximum %.1f", snap.VIX, m.cfg.Risk.MaxVIX)
	}
	return true, ""
}

func (m *Monitor) checkDrawdown(balance *storage.AccountBalance, stat *storage.DailyStat, snap *market.Snapshot) *storage.RiskEvent {
	if balance == nil || stat == nil || balance.TotalValue <= 0 {
		return nil
	}

	drawdown := stat.PeakPnL - stat.TotalPnL
	if drawdown <= 0 {
		return nil
	}
	ratio := drawdown / balance.TotalValue

	vix := 0.0
	if snap != nil {
		vix = snap.VIX
	}

	switch {
	case ratio >= m.cfg.Risk.MaxDrawdown:
		return &storage.RiskEvent{
			EventType:   "daily_drawdown",
			Severity:    storage.SeverityHigh,
			Description: fmt.Sprintf("daily drawdown %.1f%% breached limit %.1f%%", ratio*100, m.cfg.Risk.MaxDrawdown*100),
			VIX:         vix,
			ActionTaken: "all positions force-closed, trading halted",
		}
	case ratio >= 0.8*m.cfg.Risk.MaxDrawdown:
		return &storage.RiskEvent{
			EventType:   "daily_drawdown",
			Severity:    storage.SeverityLow,
			Description: fmt.Sprintf("daily drawdown %.1f%% approaching limit %.1f%%", ratio*100, m.cfg.Risk.MaxDrawdown*100),
			VIX:         vix,
			ActionTaken: "warning only",
		}
	}
	return nil
}

func (m *Monitor) checkVIX(snap *market.Snapshot) *storage.RiskEvent {
	if snap == nil || snap.VIX <= 0 {
		return nil
	}

	switch {
	case snap.VIX >= m.cfg.Risk.VIXLimit:
		return &storage.RiskEvent{
			EventType:       "vix_spike",
			Severity:        storage.SeverityHigh,
			Description:     fmt.Sprintf("VIX %.1f at or above hard limit %.1f", snap.VIX, m.cfg.Risk.VIXLimit),
			VIX:             snap.VIX,
			MarketCondition: "panic",
			ActionTaken:     "all positions force-closed, trading halted",
		}
	case snap.VIX >= m.cfg.Risk.VIXWarning:
		return &storage.RiskEvent{
			EventType:       "vix_spike",
			Severity:        storage.SeverityLow,
			Description:     fmt.Sprintf("VIX %.1f above warning level %.1f", snap.VIX, m.cfg.Risk.VIXWarning),
			VIX:             snap.VIX,
			MarketCondition: "elevated",
			ActionTaken:     "warning only",
		}
	}
	return nil
}

func (m *Monitor) checkPositionLoss(pos *storage.PositionRecord, snap *market.Snapshot) (*storage.RiskEvent, *ForceCloseRequest) {
	if pos.EntryPrice <= 0 || pos.Size == 0 {
		return nil, nil
	}

	unrealized := (pos.CurrentPrice - pos.EntryPrice) * pos.Size
	if unrealized >= 0 {
		return nil, nil
	}
	basis := pos.EntryPrice * pos.Size
	if basis < 0 {
		basis = -basis
	}
	lossPct := -unrealized / basis
	if lossPct < m.cfg.Risk.MaxPositionLossPct {
		return nil, nil
	}

	symbol := ""
	if pos.Contract != nil {
		symbol = pos.Contract.Symbol
	}
	vix := 0.0
	if snap != nil {
		vix = snap.VIX
	}
	posID := pos.ID

	ev := &storage.RiskEvent{
		EventType:      "position_loss",
		Severity:       storage.SeverityMedium,
		Description:    fmt.Sprintf("position %d loss %.1f%% breached limit %.1f%%", pos.ID, lossPct*100, m.cfg.Risk.MaxPositionLossPct*100),
		ContractSymbol: symbol,
		PositionID:     &posID,
		VIX:            vix,
		ActionTaken:    "position queued for force close",
	}
	req := &ForceCloseRequest{
		PositionID: pos.ID,
		Reason:     fmt.Sprintf("position loss %.1f%% over limit", lossPct*100),
	}
	return ev, req
}

func (m *Monitor) checkFailedCloses(pos *storage.PositionRecord, failedCloses func(uint) int) *storage.RiskEvent {
	if failedCloses == nil {
		return nil
	}
	n := failedCloses(pos.ID)
	if n < m.cfg.Risk.MaxFailedCloses {
		return nil
	}

	symbol := ""
	if pos.Contract != nil {
		symbol = pos.Contract.Symbol
	}
	posID := pos.ID
	return &storage.RiskEvent{
		EventType:      "repeated_close_failure",
		Severity:       storage.SeverityMedium,
		Description:    fmt.Sprintf("position %d has %d consecutive failed close attempts", pos.ID, n),
		ContractSymbol: symbol,
		PositionID:     &posID,
		ActionTaken:    "operator attention required, retries continue",
	}
}

func highestReason(events []storage.RiskEvent) string {
	for i := range events {
		if events[i].Severity == storage.SeverityHigh {
			return events[i].Description
		}
	}
	return ""
}
