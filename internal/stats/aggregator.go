// Package stats maintains the per-date performance aggregates, fed one
// closed position at a time.
package stats

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/halverin/opt-trader/internal/config"
	"github.com/halverin/opt-trader/internal/logger"
	"github.com/halverin/opt-trader/internal/position"
	"github.com/halverin/opt-trader/internal/storage"
)

type Aggregator struct {
	repo   *storage.Repository
	cfg    *config.Config
	logger *logger.Logger
}

func NewAggregator(repo *storage.Repository, cfg *config.Config, log *logger.Logger) *Aggregator {
	return &Aggregator{repo: repo, cfg: cfg, logger: log}
}

// OnPositionClosed applies one settlement to the daily aggregate of the
// close date. Application is exactly-once: the close trade leg carries a
// settled flag flipped in the same transaction as the stat update, so a
// replayed fact is a no-op.
func (a *Aggregator) OnPositionClosed(fact *position.PnLFact) error {
	date := fact.ClosedAt.In(a.cfg.MarketLocation()).Format("2006-01-02")

	return a.repo.Transaction(func(tx *gorm.DB) error {
		var trade storage.OptionTrade
		err := tx.Where("position_id = ? AND leg = ?", fact.PositionID, storage.TradeLegClose).
			First(&trade).Error
		if err != nil {
			return fmt.Errorf("load close trade leg for position %d: %w", fact.PositionID, err)
		}
		if trade.Settled {
			a.logger.Debug("settlement already applied", "position_id", fact.PositionID, "date", date)
			return nil
		}

		var stat storage.DailyStat
		err = tx.Where("date = ?", date).First(&stat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			stat = storage.DailyStat{Date: date}
		} else if err != nil {
			return fmt.Errorf("load daily stat %s: %w", date, err)
		}

		apply(&stat, fact.PnL)

		if err := tx.Save(&stat).Error; err != nil {
			return fmt.Errorf("save daily stat %s: %w", date, err)
		}

		trade.Settled = true
		if err := tx.Save(&trade).Error; err != nil {
			return fmt.Errorf("mark trade settled: %w", err)
		}
		return nil
	})
}

func apply(stat *storage.DailyStat, pnl float64) {
	stat.TradeCount++
	stat.TotalPnL += pnl

	if pnl > 0 {
		stat.WinningCount++
		stat.GrossProfit += pnl
		if pnl > stat.MaxProfit {
			stat.MaxProfit = pnl
		}
	} else if pnl < 0 {
		stat.GrossLoss += -pnl
		if pnl < stat.MaxLoss {
			stat.MaxLoss = pnl
		}
	}

	// Running peak-to-trough over cumulative realized pnl, in close order.
	if stat.TotalPnL > stat.PeakPnL {
		stat.PeakPnL = stat.TotalPnL
	}
	if dd := stat.PeakPnL - stat.TotalPnL; dd > stat.MaxDrawdown {
		stat.MaxDrawdown = dd
	}

	stat.WinRate = float64(stat.WinningCount) / float64(stat.TradeCount)
	if stat.GrossLoss > 0 {
		stat.ProfitFactor = stat.GrossProfit / stat.GrossLoss
	} else {
		stat.ProfitFactor = 0
	}
}
