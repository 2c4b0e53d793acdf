package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Transaction runs fn inside a single database transaction.
func (r *Repository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

// Contracts

// UpsertContract creates the contract on first reference; identity fields are
// immutable afterwards, only is_active may change.
func (r *Repository) UpsertContract(c *OptionContract) error {
	var existing OptionContract
	err := r.db.Where("symbol = ?", c.Symbol).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(c).Error
	}
	if err != nil {
		return err
	}
	if existing.IsActive != c.IsActive {
		if err := r.db.Model(&existing).Update("is_active", c.IsActive).Error; err != nil {
			return err
		}
	}
	*c = existing
	c.IsActive = existing.IsActive
	return nil
}

func (r *Repository) GetContract(symbol string) (*OptionContract, error) {
	var c OptionContract
	if err := r.db.Where("symbol = ?", symbol).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) DeactivateExpiredContracts(now time.Time) (int64, error) {
	res := r.db.Model(&OptionContract{}).
		Where("is_active = ? AND expiry < ?", true, now).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

// Positions

func (r *Repository) CreatePosition(p *PositionRecord) error {
	return r.db.Create(p).Error
}

func (r *Repository) SavePosition(p *PositionRecord) error {
	return r.db.Save(p).Error
}

func (r *Repository) GetPosition(id uint) (*PositionRecord, error) {
	var p PositionRecord
	if err := r.db.Preload("Contract").First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetOpenPositions() ([]PositionRecord, error) {
	var positions []PositionRecord
	err := r.db.Preload("Contract").
		Where("status = ?", StatusOpen).
		Order("entry_time ASC").
		Find(&positions).Error
	return positions, err
}

func (r *Repository) GetOpenPositionByContract(contractID uint) (*PositionRecord, error) {
	var p PositionRecord
	err := r.db.Where("status = ? AND contract_id = ?", StatusOpen, contractID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) CountOpenPositions() (int64, error) {
	var n int64
	err := r.db.Model(&PositionRecord{}).Where("status = ?", StatusOpen).Count(&n).Error
	return n, err
}

// Trades

func (r *Repository) CreateTrade(t *OptionTrade) error {
	return r.db.Create(t).Error
}

func (r *Repository) GetRecentTrades(limit int) ([]OptionTrade, error) {
	var trades []OptionTrade
	err := r.db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// Indicator metrics

func (r *Repository) SaveMetric(m *OptionMetric) error {
	return r.db.Create(m).Error
}

// GetRecentMetrics returns up to limit metric rows for the underlying,
// oldest first.
func (r *Repository) GetRecentMetrics(underlying string, limit int) ([]OptionMetric, error) {
	var metrics []OptionMetric
	err := r.db.Where("underlying = ?", underlying).
		Order("id DESC").Limit(limit).
		Find(&metrics).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(metrics)-1; i < j; i, j = i+1, j-1 {
		metrics[i], metrics[j] = metrics[j], metrics[i]
	}
	return metrics, nil
}

// Signals

func (r *Repository) SaveSignal(s *SignalRecord) error {
	return r.db.Create(s).Error
}

func (r *Repository) GetRecentSignals(limit int) ([]SignalRecord, error) {
	var signals []SignalRecord
	err := r.db.Order("created_at DESC").Limit(limit).Find(&signals).Error
	return signals, err
}

// Daily stats

func (r *Repository) GetDailyStat(date string) (*DailyStat, error) {
	var s DailyStat
	if err := r.db.Where("date = ?", date).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// TotalRealizedPnL sums realized pnl over every recorded trading date.
func (r *Repository) TotalRealizedPnL() (float64, error) {
	var total float64
	err := r.db.Model(&DailyStat{}).
		Select("COALESCE(SUM(total_pnl), 0)").
		Scan(&total).Error
	return total, err
}

// Risk events

func (r *Repository) SaveRiskEvent(e *RiskEvent) error {
	return r.db.Create(e).Error
}

func (r *Repository) GetRecentRiskEvents(limit int) ([]RiskEvent, error) {
	var events []RiskEvent
	err := r.db.Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

func (r *Repository) CountRiskEvents(eventType string, positionID uint) (int64, error) {
	var n int64
	err := r.db.Model(&RiskEvent{}).
		Where("event_type = ? AND position_id = ?", eventType, positionID).
		Count(&n).Error
	return n, err
}

// Market data

func (r *Repository) SaveMarketData(d *MarketData) error {
	return r.db.Create(d).Error
}

func (r *Repository) GetRecentMarketData(underlying string, limit int) ([]MarketData, error) {
	var rows []MarketData
	err := r.db.Where("underlying = ?", underlying).
		Order("id DESC").Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// Orders

func (r *Repository) CreateOrder(o *OrderStatus) error {
	return r.db.Create(o).Error
}

func (r *Repository) UpdateOrderStatus(orderID, status string) error {
	return r.db.Model(&OrderStatus{}).
		Where("order_id = ?", orderID).
		Update("status", status).Error
}

// Account balance

func (r *Repository) SaveBalance(b *AccountBalance) error {
	return r.db.Create(b).Error
}

func (r *Repository) GetLatestBalance() (*AccountBalance, error) {
	var b AccountBalance
	if err := r.db.Order("created_at DESC").First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// System status

func (r *Repository) Heartbeat(component, status, message string) error {
	now := time.Now()
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "component"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "last_heartbeat", "message", "updated_at",
		}),
	}).Create(&SystemStatus{
		Component:     component,
		Status:        status,
		LastHeartbeat: now,
		Message:       message,
		UpdatedAt:     now,
	}).Error
}
