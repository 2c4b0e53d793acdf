package storage

import "time"

// Contract/position status and close reason values stored as plain strings,
// matching the check constraints of the original schema.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"

	ContractCall = "CALL"
	ContractPut  = "PUT"

	SignalBuy  = "BUY"
	SignalSell = "SELL"

	ReasonStopLoss       = "STOP_LOSS"
	ReasonSignalReversal = "SIGNAL_REVERSAL"
	ReasonRiskForced     = "RISK_FORCED"
	ReasonExpiry         = "EXPIRY"
	ReasonManual         = "MANUAL"

	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"

	TradeLegOpen  = "OPEN"
	TradeLegClose = "CLOSE"

	OrderPending   = "pending"
	OrderFilled    = "filled"
	OrderCancelled = "cancelled"
	OrderRejected  = "rejected"
)

// OptionContract is immutable identity plus an activity flag. Contracts are
// created on first reference by ingested option data and only ever
// deactivated, never deleted.
type OptionContract struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Symbol     string    `gorm:"uniqueIndex;not null" json:"symbol"`
	Underlying string    `gorm:"index;not null" json:"underlying"`
	Type       string    `gorm:"not null" json:"type"` // CALL or PUT
	Strike     float64   `gorm:"not null" json:"strike"`
	Expiry     time.Time `gorm:"not null" json:"expiry"`
	Multiplier int       `gorm:"not null;default:100" json:"multiplier"`
	// No column default: GORM skips zero-value fields that carry one, so a
	// contract created with IsActive false would be written back as true.
	IsActive bool `gorm:"not null" json:"is_active"`
}

func (OptionContract) TableName() string { return "options" }

// PositionRecord is one open or closed options holding. Mutated only by the
// position lifecycle engine; OPEN -> CLOSED is the single transition.
type PositionRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContractID uint            `gorm:"index;not null" json:"contract_id"`
	Contract   *OptionContract `gorm:"foreignKey:ContractID" json:"contract,omitempty"`
	SignalID   *uint           `json:"signal_id,omitempty"`

	// Size is signed: negative size encodes a short position. It already
	// carries the contract multiplier, so pnl = (exit - entry) * size.
	Size         float64    `gorm:"not null" json:"size"`
	EntryPrice   float64    `gorm:"not null" json:"entry_price"`
	CurrentPrice float64    `json:"current_price"`
	StopLoss     float64    `json:"stop_loss"`
	HighPrice    float64    `json:"high_price"`
	EntryTime    time.Time  `json:"entry_time"`
	ExitTime     *time.Time `json:"exit_time,omitempty"`
	PnL          *float64   `gorm:"column:pnl" json:"pnl,omitempty"`
	Status       string     `gorm:"index;not null;default:'OPEN'" json:"status"`
	CloseReason  string     `json:"close_reason,omitempty"`

	Delta float64 `json:"delta"`
	Theta float64 `json:"theta"`
}

func (PositionRecord) TableName() string { return "position_records" }

// OptionTrade is one executed fill leg, one row per open/close of a position.
// The Settled flag marks the close leg as applied to daily stats.
type OptionTrade struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	PositionID uint    `gorm:"index:idx_trade_leg,unique" json:"position_id"`
	Leg        string  `gorm:"index:idx_trade_leg,unique;not null" json:"leg"` // OPEN or CLOSE
	Side       string  `gorm:"not null" json:"side"`
	Price      float64 `gorm:"not null" json:"price"`
	Quantity   int64   `gorm:"not null" json:"quantity"`
	OrderID    string  `json:"order_id"`
	Settled    bool    `gorm:"not null;default:false" json:"settled"`
}

func (OptionTrade) TableName() string { return "option_trades" }

// OptionMetric is a per-cycle indicator snapshot used as signal input history.
type OptionMetric struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Underlying  string  `gorm:"index;not null" json:"underlying"`
	Close       float64 `json:"close"`
	RSI         float64 `gorm:"column:rsi" json:"rsi"`
	MACD        float64 `gorm:"column:macd" json:"macd"`
	MACDSignal  float64 `gorm:"column:macd_signal" json:"macd_signal"`
	MACDHist    float64 `gorm:"column:macd_hist" json:"macd_hist"`
	VolumeRatio float64 `json:"volume_ratio"`
	VIX         float64 `gorm:"column:vix" json:"vix"`
}

func (OptionMetric) TableName() string { return "option_metrics" }

// SignalRecord is persisted for every generated signal, executed or not.
// Mutated exactly once, from unexecuted to executed.
type SignalRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Underlying     string  `gorm:"index;not null" json:"underlying"`
	ContractSymbol string  `json:"contract_symbol"`
	Type           string  `gorm:"not null" json:"type"` // BUY or SELL
	Strength       float64 `gorm:"not null" json:"strength"`

	RSI         float64 `gorm:"column:rsi" json:"rsi"`
	MACD        float64 `gorm:"column:macd" json:"macd"`
	MACDSignal  float64 `gorm:"column:macd_signal" json:"macd_signal"`
	MACDHist    float64 `gorm:"column:macd_hist" json:"macd_hist"`
	VolumeRatio float64 `json:"volume_ratio"`
	VIX         float64 `gorm:"column:vix" json:"vix"`

	IsExecuted     bool       `gorm:"not null;default:false" json:"is_executed"`
	ExecutedAt     *time.Time `json:"executed_at,omitempty"`
	ExecutionPrice *float64   `json:"execution_price,omitempty"`
}

func (SignalRecord) TableName() string { return "signals" }

// DailyStat is one record per calendar trading date, mutated incrementally by
// the daily aggregator on every position close of that date.
type DailyStat struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Date         string  `gorm:"uniqueIndex;not null" json:"date"` // YYYY-MM-DD
	TradeCount   int     `json:"trade_count"`
	WinningCount int     `json:"winning_count"`
	TotalPnL     float64 `gorm:"column:total_pnl" json:"total_pnl"`
	PeakPnL      float64 `gorm:"column:peak_pnl" json:"peak_pnl"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	MaxProfit    float64 `json:"max_profit"`
	MaxLoss      float64 `json:"max_loss"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
}

func (DailyStat) TableName() string { return "daily_stats" }

// RiskEvent is append-only; rows are never mutated or deleted.
type RiskEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	EventType       string  `gorm:"index;not null" json:"event_type"`
	Severity        string  `gorm:"not null" json:"severity"`
	Description     string  `gorm:"type:text" json:"description"`
	ContractSymbol  string  `json:"contract_symbol,omitempty"`
	PositionID      *uint   `json:"position_id,omitempty"`
	VIX             float64 `gorm:"column:vix" json:"vix"`
	MarketCondition string  `json:"market_condition,omitempty"`
	ActionTaken     string  `json:"action_taken,omitempty"`
}

func (RiskEvent) TableName() string { return "risk_events" }

// MarketData is one underlying OHLCV+VIX snapshot per cycle.
type MarketData struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Underlying string    `gorm:"index;not null" json:"underlying"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	VIX        float64   `gorm:"column:vix" json:"vix"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}

func (MarketData) TableName() string { return "market_data" }

// OrderStatus tracks orders handed to the external execution capability.
type OrderStatus struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID        string  `gorm:"uniqueIndex;not null" json:"order_id"`
	ContractSymbol string  `gorm:"index" json:"contract_symbol"`
	Side           string  `json:"side"`
	Quantity       int64   `json:"quantity"`
	Price          float64 `json:"price"`
	Status         string  `gorm:"not null;default:'pending'" json:"status"`
	PositionID     *uint   `json:"position_id,omitempty"`
}

func (OrderStatus) TableName() string { return "order_status" }

// AccountBalance is a cash/holdings snapshot taken once per cycle.
type AccountBalance struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Cash          float64 `json:"cash"`
	HoldingsValue float64 `json:"holdings_value"`
	TotalValue    float64 `json:"total_value"`
}

func (AccountBalance) TableName() string { return "account_balance" }

// SystemStatus is a per-component heartbeat row, upserted on every cycle.
type SystemStatus struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Component     string    `gorm:"uniqueIndex;not null" json:"component"`
	Status        string    `gorm:"not null" json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Message       string    `json:"message,omitempty"`
}

func (SystemStatus) TableName() string { return "system_status" }
