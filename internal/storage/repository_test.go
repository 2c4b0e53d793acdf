package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return NewRepository(db)
}

func TestUpsertContractImmutableIdentity(t *testing.T) {
	repo := newTestRepo(t)
	expiry := time.Now().AddDate(0, 0, 30)

	first := &OptionContract{
		Symbol: "SPY240920C00450000", Underlying: "SPY",
		Type: ContractCall, Strike: 450, Expiry: expiry,
		Multiplier: 100, IsActive: true,
	}
	require.NoError(t, repo.UpsertContract(first))
	require.NotZero(t, first.ID)

	// Re-reference with different identity fields: only is_active may change
	second := &OptionContract{
		Symbol: "SPY240920C00450000", Underlying: "SPY",
		Type: ContractCall, Strike: 999, Expiry: expiry,
		Multiplier: 100, IsActive: false,
	}
	require.NoError(t, repo.UpsertContract(second))
	assert.Equal(t, first.ID, second.ID)

	saved, err := repo.GetContract("SPY240920C00450000")
	require.NoError(t, err)
	assert.Equal(t, 450.0, saved.Strike)
	assert.False(t, saved.IsActive)
}

func TestUpsertContractKeepsInactiveOnCreate(t *testing.T) {
	repo := newTestRepo(t)

	c := &OptionContract{
		Symbol: "SPY250620P00400000", Underlying: "SPY",
		Type: ContractPut, Strike: 400, Expiry: time.Now().AddDate(0, 1, 0),
		Multiplier: 100, IsActive: false,
	}
	require.NoError(t, repo.UpsertContract(c))
	assert.False(t, c.IsActive)

	saved, err := repo.GetContract(c.Symbol)
	require.NoError(t, err)
	assert.False(t, saved.IsActive)
}

func TestDeactivateExpiredContracts(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()

	expired := &OptionContract{
		Symbol: "SPY200101C00300000", Underlying: "SPY",
		Type: ContractCall, Strike: 300, Expiry: now.AddDate(0, 0, -1),
		Multiplier: 100, IsActive: true,
	}
	live := &OptionContract{
		Symbol: "SPY270101C00500000", Underlying: "SPY",
		Type: ContractCall, Strike: 500, Expiry: now.AddDate(1, 0, 0),
		Multiplier: 100, IsActive: true,
	}
	require.NoError(t, repo.UpsertContract(expired))
	require.NoError(t, repo.UpsertContract(live))

	n, err := repo.DeactivateExpiredContracts(now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	saved, err := repo.GetContract(expired.Symbol)
	require.NoError(t, err)
	assert.False(t, saved.IsActive)

	saved, err = repo.GetContract(live.Symbol)
	require.NoError(t, err)
	assert.True(t, saved.IsActive)
}

func TestTradeLegUniquePerPosition(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.CreateTrade(&OptionTrade{
		PositionID: 1, Leg: TradeLegClose, Side: SignalSell, Price: 10, Quantity: 1,
	}))
	// A second close leg for the same position violates the unique index
	err := repo.CreateTrade(&OptionTrade{
		PositionID: 1, Leg: TradeLegClose, Side: SignalSell, Price: 11, Quantity: 1,
	})
	assert.Error(t, err)

	// The open leg of the same position is fine
	require.NoError(t, repo.CreateTrade(&OptionTrade{
		PositionID: 1, Leg: TradeLegOpen, Side: SignalBuy, Price: 9, Quantity: 1,
	}))
}

func TestGetRecentMetricsOldestFirst(t *testing.T) {
	repo := newTestRepo(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.SaveMetric(&OptionMetric{
			Underlying: "SPY", Close: float64(100 + i),
		}))
	}

	metrics, err := repo.GetRecentMetrics("SPY", 3)
	require.NoError(t, err)
	require.Len(t, metrics, 3)
	assert.Equal(t, 103.0, metrics[0].Close)
	assert.Equal(t, 105.0, metrics[2].Close)
}

func TestHeartbeatUpserts(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Heartbeat("scheduler", "ok", ""))
	require.NoError(t, repo.Heartbeat("scheduler", "ok", "cycle 2"))

	var rows []SystemStatus
	require.NoError(t, repo.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "scheduler", rows[0].Component)
	assert.Equal(t, "cycle 2", rows[0].Message)
}

func TestTotalRealizedPnL(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.db.Create(&DailyStat{Date: "2026-08-31", TotalPnL: 150}).Error)
	require.NoError(t, repo.db.Create(&DailyStat{Date: "2026-09-01", TotalPnL: -50}).Error)

	total, err := repo.TotalRealizedPnL()
	require.NoError(t, err)
	assert.InDelta(t, 100, total, 1e-9)
}
