package stats

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halverin/opt-trader/internal/config"
	"github.com/halverin/opt-trader/internal/logger"
	"github.com/halverin/opt-trader/internal/position"
	"github.com/halverin/opt-trader/internal/storage"
)

func newTestAggregator(t *testing.T) (*Aggregator, *storage.Repository, *config.Config) {
	t.Helper()

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	repo := storage.NewRepository(db)

	cfg := config.Default()
	cfg.Trading.Symbols = []string{"SPY"}

	return NewAggregator(repo, cfg, logger.New("error")), repo, cfg
}

// closeFact persists a close trade leg and returns the matching fact, the
// way the lifecycle engine produces them.
func closeFact(t *testing.T, repo *storage.Repository, positionID uint, pnl float64, closedAt time.Time) *position.PnLFact {
	t.Helper()
	require.NoError(t, repo.CreateTrade(&storage.OptionTrade{
		PositionID: positionID,
		Leg:        storage.TradeLegClose,
		Side:       storage.SignalSell,
		Price:      10,
		Quantity:   1,
	}))
	return &position.PnLFact{
		PositionID:     positionID,
		ContractSymbol: "SPY240920C00450000",
		PnL:            pnl,
		Reason:         storage.ReasonStopLoss,
		ClosedAt:       closedAt,
	}
}

func TestAggregateDay(t *testing.T) {
	agg, repo, cfg := newTestAggregator(t)
	day := time.Date(2026, 9, 1, 12, 0, 0, 0, cfg.MarketLocation())

	require.NoError(t, agg.OnPositionClosed(closeFact(t, repo, 1, 300, day)))
	require.NoError(t, agg.OnPositionClosed(closeFact(t, repo, 2, -100, day.Add(time.Hour))))
	require.NoError(t, agg.OnPositionClosed(closeFact(t, repo, 3, 200, day.Add(2*time.Hour))))

	stat, err := repo.GetDailyStat("2026-09-01")
	require.NoError(t, err)

	assert.Equal(t, 3, stat.TradeCount)
	assert.Equal(t, 2, stat.WinningCount)
	assert.InDelta(t, 400, stat.TotalPnL, 1e-9)
	assert.InDelta(t, 500, stat.GrossProfit, 1e-9)
	assert.InDelta(t, 100, stat.GrossLoss, 1e-9)
	assert.InDelta(t, 300, stat.MaxProfit, 1e-9)
	assert.InDelta(t, -100, stat.MaxLoss, 1e-9)
	assert.InDelta(t, 2.0/3.0, stat.WinRate, 1e-9)
	assert.InDelta(t, 5.0, stat.ProfitFactor, 1e-9)

	// Peak 300 after first close, trough 200 after second
	assert.InDelta(t, 400, stat.PeakPnL, 1e-9)
	assert.InDelta(t, 100, stat.MaxDrawdown, 1e-9)
}

func TestSettlementIsIdempotent(t *testing.T) {
	agg, repo, cfg := newTestAggregator(t)
	day := time.Date(2026, 9, 1, 12, 0, 0, 0, cfg.MarketLocation())

	fact := closeFact(t, repo, 1, 250, day)
	require.NoError(t, agg.OnPositionClosed(fact))

	// Replaying the same fact must not change the aggregate
	require.NoError(t, agg.OnPositionClosed(fact))
	require.NoError(t, agg.OnPositionClosed(fact))

	stat, err := repo.GetDailyStat("2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, 1, stat.TradeCount)
	assert.InDelta(t, 250, stat.TotalPnL, 1e-9)
}

func TestDaysAggregateSeparately(t *testing.T) {
	agg, repo, cfg := newTestAggregator(t)
	loc := cfg.MarketLocation()

	require.NoError(t, agg.OnPositionClosed(
		closeFact(t, repo, 1, 100, time.Date(2026, 9, 1, 15, 0, 0, 0, loc))))
	require.NoError(t, agg.OnPositionClosed(
		closeFact(t, repo, 2, -50, time.Date(2026, 9, 2, 10, 0, 0, 0, loc))))

	day1, err := repo.GetDailyStat("2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, 1, day1.TradeCount)
	assert.InDelta(t, 100, day1.TotalPnL, 1e-9)

	day2, err := repo.GetDailyStat("2026-09-02")
	require.NoError(t, err)
	assert.Equal(t, 1, day2.TradeCount)
	assert.InDelta(t, -50, day2.TotalPnL, 1e-9)
}

func TestMissingCloseLegFails(t *testing.T) {
	agg, _, cfg := newTestAggregator(t)
	fact := &position.PnLFact{
		PositionID: 99,
		PnL:        100,
		ClosedAt:   time.Date(2026, 9, 1, 12, 0, 0, 0, cfg.MarketLocation()),
	}
	assert.Error(t, agg.OnPositionClosed(fact))
}
