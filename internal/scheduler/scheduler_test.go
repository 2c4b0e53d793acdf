package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halverin/opt-trader/internal/config"
	"github.com/halverin/opt-trader/internal/logger"
	"github.com/halverin/opt-trader/internal/market"
	"github.com/halverin/opt-trader/internal/position"
	"github.com/halverin/opt-trader/internal/risk"
	"github.com/halverin/opt-trader/internal/signal"
	"github.com/halverin/opt-trader/internal/stats"
	"github.com/halverin/opt-trader/internal/storage"
	"github.com/halverin/opt-trader/internal/telegram"
)

type stubGate struct {
	open        bool
	forceWindow bool
}

func (g *stubGate) IsTradingNow() bool       { return g.open }
func (g *stubGate) InForceCloseWindow() bool { return g.forceWindow }

type testRig struct {
	sched    *Scheduler
	provider *market.SimProvider
	exec     *market.SimExecutor
	engine   *position.Engine
	repo     *storage.Repository
	gate     *stubGate
	cfg      *config.Config
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	repo := storage.NewRepository(db)

	cfg := config.Default()
	cfg.Trading.Symbols = []string{"SPY"}

	log := logger.New("error")
	provider := market.NewSimProvider()
	exec := market.NewSimExecutor()
	posEngine := position.NewEngine(repo, exec, cfg, log)
	sigEngine := signal.NewEngine(repo, cfg, log)
	monitor := risk.NewMonitor(repo, cfg, log)
	agg := stats.NewAggregator(repo, cfg, log)
	notifier := telegram.NewNotifier(cfg, log)
	gate := &stubGate{open: true}

	sched := NewScheduler(provider, posEngine, sigEngine, monitor, agg,
		repo, notifier, gate, cfg, log, nil)

	return &testRig{
		sched:    sched,
		provider: provider,
		exec:     exec,
		engine:   posEngine,
		repo:     repo,
		gate:     gate,
		cfg:      cfg,
	}
}

func (r *testRig) openPosition(t *testing.T, symbol string, entry float64) *storage.PositionRecord {
	t.Helper()
	contract := &storage.OptionContract{
		Symbol:     symbol,
		Underlying: "SPY",
		Type:       storage.ContractCall,
		Strike:     450,
		Expiry:     time.Now().AddDate(0, 0, 30),
		Multiplier: 100,
		IsActive:   true,
	}
	require.NoError(t, r.repo.UpsertContract(contract))
	sig := &storage.SignalRecord{Underlying: "SPY", Type: storage.SignalBuy, Strength: 0.8}
	require.NoError(t, r.repo.SaveSignal(sig))

	pos, err := r.engine.Open(sig, contract, entry, 1, nil, time.Now())
	require.NoError(t, err)

	r.provider.SetChain("SPY", []market.OptionQuote{{
		Symbol: symbol, Underlying: "SPY", Type: storage.ContractCall,
		Strike: 450, Expiry: contract.Expiry,
		Bid: entry, Ask: entry, Last: entry,
		Volume: 500, OpenInterest: 300, Multiplier: 100,
	}})
	r.exec.SetPrice(symbol, entry)
	return pos
}

func TestCyclePersistsMarketState(t *testing.T) {
	rig := newTestRig(t)
	rig.provider.Script("SPY", market.Snapshot{
		Open: 449, High: 452, Low: 448, Close: 450, Volume: 1000, VIX: 18,
	})

	rig.sched.RunCycle(context.Background())

	bars, err := rig.repo.GetRecentMarketData("SPY", 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 450.0, bars[0].Close)
	assert.Equal(t, 18.0, bars[0].VIX)

	metrics, err := rig.repo.GetRecentMetrics("SPY", 10)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, 450.0, metrics[0].Close)

	// Short history: no signal rows yet
	signals, err := rig.repo.GetRecentSignals(10)
	require.NoError(t, err)
	assert.Empty(t, signals)

	balance, err := rig.repo.GetLatestBalance()
	require.NoError(t, err)
	assert.InDelta(t, rig.cfg.Trading.InitialCash, balance.TotalValue, 1e-9)
}

func TestClosedGateSkipsCycle(t *testing.T) {
	rig := newTestRig(t)
	rig.gate.open = false
	rig.provider.Script("SPY", market.Snapshot{Close: 450, VIX: 18})

	rig.sched.RunCycle(context.Background())

	bars, err := rig.repo.GetRecentMarketData("SPY", 10)
	require.NoError(t, err)
	assert.Empty(t, bars)
	assert.Nil(t, rig.sched.State())
}

func TestHighVIXForcesCloseOnNextCycle(t *testing.T) {
	rig := newTestRig(t)
	pos := rig.openPosition(t, "SPY240920C00450000", 10.00)

	// Two cycles of panic VIX
	rig.provider.Script("SPY",
		market.Snapshot{Close: 450, Volume: 1000, VIX: 40},
		market.Snapshot{Close: 450, Volume: 1000, VIX: 40},
	)

	// Cycle 1: the breach is detected and queued, the position survives
	rig.sched.RunCycle(context.Background())

	saved, err := rig.repo.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusOpen, saved.Status)
	require.NotNil(t, rig.sched.State())
	assert.True(t, rig.sched.State().Halted())

	events, err := rig.repo.GetRecentRiskEvents(10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, storage.SeverityHigh, events[0].Severity)

	// Cycle 2: the queued force close lands
	rig.sched.RunCycle(context.Background())

	saved, err = rig.repo.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusClosed, saved.Status)
	assert.Equal(t, storage.ReasonRiskForced, saved.CloseReason)

	// The close settled into the daily aggregate exactly once
	stat, err := rig.repo.GetDailyStat(rig.sched.State().TradingDay)
	require.NoError(t, err)
	assert.Equal(t, 1, stat.TradeCount)
}

func TestRefreshCarriesGreeksFromChain(t *testing.T) {
	rig := newTestRig(t)
	pos := rig.openPosition(t, "SPY240920C00450000", 10.00)
	rig.provider.Script("SPY", market.Snapshot{Close: 450, Volume: 1000, VIX: 18})

	rig.provider.SetChain("SPY", []market.OptionQuote{{
		Symbol: "SPY240920C00450000", Underlying: "SPY", Type: storage.ContractCall,
		Strike: 450, Expiry: time.Now().AddDate(0, 0, 30),
		Bid: 10.00, Ask: 10.00, Last: 10.00,
		Volume: 500, OpenInterest: 300, Multiplier: 100,
		Delta: 0.55, Theta: -0.04,
	}})

	rig.sched.RunCycle(context.Background())

	saved, err := rig.repo.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.55, saved.Delta)
	assert.Equal(t, -0.04, saved.Theta)
}

func TestForceCloseWindowFlattensBook(t *testing.T) {
	rig := newTestRig(t)
	pos := rig.openPosition(t, "SPY240920C00450000", 10.00)
	rig.provider.Script("SPY", market.Snapshot{Close: 450, Volume: 1000, VIX: 18})

	rig.gate.forceWindow = true
	rig.sched.RunCycle(context.Background())

	saved, err := rig.repo.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusClosed, saved.Status)
	assert.Equal(t, storage.ReasonRiskForced, saved.CloseReason)
}

func TestSessionStateResetsOnReopen(t *testing.T) {
	rig := newTestRig(t)
	rig.provider.Script("SPY",
		market.Snapshot{Close: 450, Volume: 1000, VIX: 40},
		market.Snapshot{Close: 450, Volume: 1000, VIX: 18},
	)

	// Halt during the first session
	rig.openPosition(t, "SPY240920C00450000", 10.00)
	rig.sched.RunCycle(context.Background())
	require.True(t, rig.sched.State().Halted())
	firstVersion := rig.sched.State().Version

	// Gate closes overnight
	rig.gate.open = false
	rig.sched.RunCycle(context.Background())
	assert.Nil(t, rig.sched.State())

	// Next open starts a fresh, unhalted session
	rig.gate.open = true
	rig.sched.RunCycle(context.Background())
	require.NotNil(t, rig.sched.State())
	assert.False(t, rig.sched.State().Halted())
	assert.Greater(t, rig.sched.State().Version, firstVersion)
}
