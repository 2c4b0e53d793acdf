// Package scheduler drives the periodic trading cycle. All trading state is
// mutated from this single loop; other components only compute and persist.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/halverin/opt-trader/internal/config"
	"github.com/halverin/opt-trader/internal/indicators"
	"github.com/halverin/opt-trader/internal/logger"
	"github.com/halverin/opt-trader/internal/market"
	"github.com/halverin/opt-trader/internal/position"
	"github.com/halverin/opt-trader/internal/risk"
	"github.com/halverin/opt-trader/internal/session"
	"github.com/halverin/opt-trader/internal/signal"
	"github.com/halverin/opt-trader/internal/stats"
	"github.com/halverin/opt-trader/internal/storage"
	"github.com/halverin/opt-trader/internal/telegram"
)

type Scheduler struct {
	provider  market.Provider
	positions *position.Engine
	signals   *signal.Engine
	monitor   *risk.Monitor
	agg       *stats.Aggregator
	repo      *storage.Repository
	notifier  *telegram.Notifier
	gate      session.Gate
	config    *config.Config
	logger    *logger.Logger
	loc       *time.Location
	now       func() time.Time

	state        *session.State
	stateVersion int64
}

func NewScheduler(
	provider market.Provider,
	posEngine *position.Engine,
	sigEngine *signal.Engine,
	monitor *risk.Monitor,
	agg *stats.Aggregator,
	repo *storage.Repository,
	notifier *telegram.Notifier,
	gate session.Gate,
	cfg *config.Config,
	log *logger.Logger,
	now func() time.Time,
) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		provider:  provider,
		positions: posEngine,
		signals:   sigEngine,
		monitor:   monitor,
		agg:       agg,
		repo:      repo,
		notifier:  notifier,
		gate:      gate,
		config:    cfg,
		logger:    log,
		loc:       cfg.MarketLocation(),
		now:       now,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	interval := s.config.TradingInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", interval.String())

	// Run immediately on start
	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			// An in-flight cycle always completes before we get here.
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full evaluation cycle. Exported so the manual
// close-all command and tests can drive cycles directly.
func (s *Scheduler) RunCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in scheduler cycle", "panic", fmt.Sprint(r))
			s.notifier.NotifyError("scheduler panic", fmt.Errorf("%v", r))
		}
	}()

	if !s.gate.IsTradingNow() {
		s.logger.Debug("outside trading session, skipping cycle")
		// Drop the session state so the next open starts fresh, with the
		// halt flag cleared.
		s.state = nil
		return
	}

	now := s.now().In(s.loc)
	if s.state == nil {
		s.stateVersion++
		s.state = session.NewState(s.stateVersion, now.Format("2006-01-02"))
		s.logger.Info("trading session opened",
			"version", s.state.Version, "day", s.state.TradingDay)
	}

	s.logger.Info("starting trading cycle")

	// 1. Ingest market data and evaluate signals, one underlying at a
	// time. A failure on one underlying never blocks the others.
	snapshots := make(map[string]*market.Snapshot, len(s.config.Trading.Symbols))
	sigs := make(map[string]*storage.SignalRecord)
	for _, underlying := range s.config.Trading.Symbols {
		snap, sig, err := s.evaluateUnderlying(ctx, underlying)
		if err != nil {
			s.logger.Error("evaluate underlying", "underlying", underlying, "error", err)
			continue
		}
		snapshots[underlying] = snap
		if sig != nil {
			sigs[underlying] = sig
		}
	}

	// 2. Contract upkeep
	if n, err := s.repo.DeactivateExpiredContracts(now); err != nil {
		s.logger.Error("deactivate expired contracts", "error", err)
	} else if n > 0 {
		s.logger.Info("expired contracts deactivated", "count", n)
	}

	// 3. Refresh open positions: apply prices, ratchet stops, close on
	// triggers. Queued force-closes from the previous cycle land here.
	facts := s.refreshPositions(ctx, sigs, now)

	// 4. New entries
	if !s.gate.InForceCloseWindow() {
		s.openPositions(ctx, snapshots, sigs, now)
	}

	// 5. Risk assessment over the post-refresh book
	s.assessRisk(snapshots)

	// 6. Settle today's closes into the daily aggregate
	for _, fact := range facts {
		if err := s.agg.OnPositionClosed(fact); err != nil {
			s.logger.Error("settle closed position",
				"position_id", fact.PositionID, "error", err)
		}
	}

	// 7. Balance snapshot and heartbeat
	s.saveBalanceSnapshot()
	if err := s.repo.Heartbeat("scheduler", "ok", ""); err != nil {
		s.logger.Error("heartbeat", "error", err)
	}

	s.logger.Info("trading cycle completed")
}

// evaluateUnderlying ingests one snapshot, records the indicator metric and
// evaluates the entry signal for a single underlying.
func (s *Scheduler) evaluateUnderlying(ctx context.Context, underlying string) (*market.Snapshot, *storage.SignalRecord, error) {
	snap, err := s.provider.LatestSnapshot(ctx, underlying)
	if err != nil {
		return nil, nil, fmt.Errorf("latest snapshot: %w", err)
	}

	if err := s.repo.SaveMarketData(&storage.MarketData{
		Underlying: underlying,
		Open:       snap.Open,
		High:       snap.High,
		Low:        snap.Low,
		Close:      snap.Close,
		Volume:     snap.Volume,
		VIX:        snap.VIX,
		Timestamp:  snap.Timestamp,
	}); err != nil {
		return nil, nil, fmt.Errorf("save market data: %w", err)
	}

	metric, err := s.computeMetric(underlying, snap)
	if err != nil {
		return nil, nil, fmt.Errorf("compute metric: %w", err)
	}
	if err := s.repo.SaveMetric(metric); err != nil {
		return nil, nil, fmt.Errorf("save metric: %w", err)
	}

	history, err := s.repo.GetRecentMetrics(underlying, s.config.Signal.MinHistory)
	if err != nil {
		return nil, nil, fmt.Errorf("load metric history: %w", err)
	}

	sig, err := s.signals.Evaluate(underlying, snap, history)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate signal: %w", err)
	}
	return snap, sig, nil
}

// computeMetric derives the cycle's indicator snapshot from recent market
// data, with the fresh snapshot as the latest bar.
func (s *Scheduler) computeMetric(underlying string, snap *market.Snapshot) (*storage.OptionMetric, error) {
	history, err := s.repo.GetRecentMarketData(underlying, 3*s.config.Signal.MinHistory)
	if err != nil {
		return nil, err
	}

	closes := make([]float64, 0, len(history))
	volumes := make([]float64, 0, len(history))
	for _, bar := range history {
		closes = append(closes, bar.Close)
		volumes = append(volumes, bar.Volume)
	}

	macd, macdSignal, macdHist := indicators.MACD(closes)
	return &storage.OptionMetric{
		Underlying:  underlying,
		Close:       snap.Close,
		RSI:         indicators.RSI(closes, indicators.RSIPeriod),
		MACD:        macd,
		MACDSignal:  macdSignal,
		MACDHist:    macdHist,
		VolumeRatio: indicators.VolumeRatio(volumes, indicators.VolumeWindow),
		VIX:         snap.VIX,
	}, nil
}

func (s *Scheduler) refreshPositions(ctx context.Context, sigs map[string]*storage.SignalRecord, now time.Time) []*position.PnLFact {
	open, err := s.repo.GetOpenPositions()
	if err != nil {
		s.logger.Error("load open positions", "error", err)
		return nil
	}

	forceWindow := s.gate.InForceCloseWindow()
	var facts []*position.PnLFact

	for i := range open {
		pos := &open[i]

		if forceWindow {
			s.positions.QueueForceClose(pos.ID, "session force-close window")
		}

		price := pos.CurrentPrice
		var reversal *storage.SignalRecord
		if pos.Contract != nil {
			if quote := s.contractQuote(ctx, pos.Contract); quote != nil {
				if mid := quote.Mid(); mid > 0 {
					price = mid
				}
				// Greeks stay zero for providers that do not quote
				// them, such as Yahoo.
				pos.Delta = quote.Delta
				pos.Theta = quote.Theta
			}
			reversal = sigs[pos.Contract.Underlying]
		}

		fact, err := s.positions.Refresh(ctx, pos, price, reversal, now)
		if err != nil {
			s.logger.Error("refresh position", "position_id", pos.ID, "error", err)
			continue
		}
		if fact != nil {
			facts = append(facts, fact)
			s.notifier.NotifyClose(fact.ContractSymbol, price, fact.PnL, fact.Reason)
		}
	}
	return facts
}

// contractQuote looks up a held contract in its underlying's chain.
func (s *Scheduler) contractQuote(ctx context.Context, contract *storage.OptionContract) *market.OptionQuote {
	quotes, err := s.provider.OptionChainQuotes(ctx, contract.Underlying)
	if err != nil {
		s.logger.Debug("option chain unavailable",
			"underlying", contract.Underlying, "error", err)
		return nil
	}
	for i := range quotes {
		if quotes[i].Symbol == contract.Symbol {
			return &quotes[i]
		}
	}
	return nil
}

func (s *Scheduler) openPositions(ctx context.Context, snapshots map[string]*market.Snapshot, sigs map[string]*storage.SignalRecord, now time.Time) {
	if s.state.Halted() {
		s.logger.Info("entries suppressed, session halted", "reason", s.state.HaltReason())
		return
	}

	for underlying, sig := range sigs {
		snap := snapshots[underlying]

		if ok, why := s.monitor.CanOpen(snap); !ok {
			s.logger.Info("entry blocked by volatility regime",
				"underlying", underlying, "reason", why)
			continue
		}

		count, err := s.repo.CountOpenPositions()
		if err != nil {
			s.logger.Error("count open positions", "error", err)
			return
		}
		if count >= int64(s.config.Trading.MaxPositions) {
			s.logger.Info("max positions reached, skipping entries", "count", count)
			return
		}

		if err := s.openFromSignal(ctx, underlying, sig, snap, now); err != nil {
			s.logger.Error("open position", "underlying", underlying, "error", err)
		}
	}
}

func (s *Scheduler) openFromSignal(ctx context.Context, underlying string, sig *storage.SignalRecord, snap *market.Snapshot, now time.Time) error {
	quotes, err := s.provider.OptionChainQuotes(ctx, underlying)
	if err != nil {
		return fmt.Errorf("option chain: %w", err)
	}

	quote := s.signals.SelectContract(quotes, sig.Type, snap.Close, now)
	if quote == nil {
		s.logger.Info("no eligible contract for signal",
			"underlying", underlying, "type", sig.Type)
		return nil
	}

	contract := &storage.OptionContract{
		Symbol:     quote.Symbol,
		Underlying: quote.Underlying,
		Type:       quote.Type,
		Strike:     quote.Strike,
		Expiry:     quote.Expiry,
		Multiplier: quote.Multiplier,
		IsActive:   true,
	}
	if err := s.repo.UpsertContract(contract); err != nil {
		return fmt.Errorf("upsert contract: %w", err)
	}

	if existing, err := s.repo.GetOpenPositionByContract(contract.ID); err == nil && existing != nil {
		s.logger.Debug("position already open on contract", "contract", contract.Symbol)
		return nil
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("check existing position: %w", err)
	}

	premium := quote.Mid()
	if premium <= 0 {
		return nil
	}
	qty := int64(s.config.Trading.MaxPositionValue / (premium * float64(contract.Multiplier)))
	if qty < 1 {
		s.logger.Info("contract too expensive for position budget",
			"contract", contract.Symbol, "premium", premium)
		return nil
	}

	pos, err := s.positions.ExecuteSignal(ctx, sig, contract, qty, s.state, now)
	if err != nil {
		return err
	}

	s.notifier.NotifyOpen(contract.Symbol, pos.EntryPrice, qty, pos.StopLoss)
	return nil
}

func (s *Scheduler) assessRisk(snapshots map[string]*market.Snapshot) {
	open, err := s.repo.GetOpenPositions()
	if err != nil {
		s.logger.Error("load open positions for risk", "error", err)
		return
	}

	balance, err := s.repo.GetLatestBalance()
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("load latest balance", "error", err)
	}

	var stat *storage.DailyStat
	stat, err = s.repo.GetDailyStat(s.state.TradingDay)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("load daily stat", "error", err)
		}
		stat = nil
	}

	// Any snapshot carries the shared VIX reading.
	var snap *market.Snapshot
	for _, underlying := range s.config.Trading.Symbols {
		if snapshots[underlying] != nil {
			snap = snapshots[underlying]
			break
		}
	}

	events, requests := s.monitor.Assess(open, balance, stat, snap, s.positions.FailedCloseCount, s.state)

	for _, req := range requests {
		s.positions.QueueForceClose(req.PositionID, req.Reason)
	}
	for i := range events {
		if events[i].Severity != storage.SeverityLow {
			s.notifier.NotifyRisk(events[i].Severity, events[i].Description)
		}
	}
}

// saveBalanceSnapshot records the cycle's account view: starting cash plus
// realized pnl minus premium deployed into open positions, and the current
// value of those positions.
func (s *Scheduler) saveBalanceSnapshot() {
	open, err := s.repo.GetOpenPositions()
	if err != nil {
		s.logger.Error("load open positions for balance", "error", err)
		return
	}

	var deployed, holdings float64
	for i := range open {
		deployed += open[i].EntryPrice * open[i].Size
		holdings += open[i].CurrentPrice * open[i].Size
	}

	realized, err := s.repo.TotalRealizedPnL()
	if err != nil {
		s.logger.Error("sum realized pnl", "error", err)
		return
	}

	cash := s.config.Trading.InitialCash + realized - deployed
	if err := s.repo.SaveBalance(&storage.AccountBalance{
		Cash:          cash,
		HoldingsValue: holdings,
		TotalValue:    cash + holdings,
	}); err != nil {
		s.logger.Error("save balance snapshot", "error", err)
	}
}

// State exposes the current session state for the web dashboard.
func (s *Scheduler) State() *session.State {
	return s.state
}
