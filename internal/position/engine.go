// Package position owns the lifecycle of option positions: opening from
// executed signals, per-cycle refresh with trailing-stop ratcheting, and the
// single OPEN -> CLOSED transition with its PnL settlement.
package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/halverin/opt-trader/internal/config"
	"github.com/halverin/opt-trader/internal/logger"
	"github.com/halverin/opt-trader/internal/market"
	"github.com/halverin/opt-trader/internal/session"
	"github.com/halverin/opt-trader/internal/storage"
)

var (
	// ErrInvalidFill rejects opens with a non-positive size or an
	// inactive/expired contract.
	ErrInvalidFill = errors.New("invalid fill")
	// ErrPositionClosed rejects any mutation of a CLOSED position.
	ErrPositionClosed = errors.New("position already closed")
	// ErrHalted rejects opens while the session halt flag is set.
	ErrHalted = errors.New("trading halted")
)

// OrderExecutor is the external order-execution capability.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, symbol, side string, qty int64) (*market.Fill, error)
}

// PnLFact is the settlement record of one closed position, handed to the
// daily aggregator.
type PnLFact struct {
	PositionID     uint
	ContractSymbol string
	PnL            float64
	Reason         string
	ClosedAt       time.Time
}

type Engine struct {
	repo   *storage.Repository
	exec   OrderExecutor
	cfg    *config.Config
	logger *logger.Logger

	// pendingForce holds force-close requests queued by the risk monitor,
	// consumed on the next refresh of each position.
	pendingForce map[uint]string
	failedCloses map[uint]int
}

func NewEngine(repo *storage.Repository, exec OrderExecutor, cfg *config.Config, log *logger.Logger) *Engine {
	return &Engine{
		repo:         repo,
		exec:         exec,
		cfg:          cfg,
		logger:       log,
		pendingForce: make(map[uint]string),
		failedCloses: make(map[uint]int),
	}
}

// QueueForceClose records a risk-driven close request. It takes effect on the
// position's next refresh, never within the cycle that raised it.
func (e *Engine) QueueForceClose(positionID uint, reason string) {
	e.pendingForce[positionID] = reason
}

// FailedCloseCount reports how many consecutive close attempts have failed
// for a position.
func (e *Engine) FailedCloseCount(positionID uint) int {
	return e.failedCloses[positionID]
}

// Open creates a position from an executed signal fill. The originating
// signal is marked executed in the same transaction. High price starts at the
// entry and the initial stop sits initial_stop_pct below it.
func (e *Engine) Open(sig *storage.SignalRecord, contract *storage.OptionContract, fillPrice float64, qty int64, st *session.State, now time.Time) (*storage.PositionRecord, error) {
	if st != nil && st.Halted() {
		return nil, fmt.Errorf("%w: %s", ErrHalted, st.HaltReason())
	}
	if qty <= 0 || fillPrice <= 0 {
		return nil, fmt.Errorf("%w: qty=%d price=%v", ErrInvalidFill, qty, fillPrice)
	}
	if !contract.IsActive {
		return nil, fmt.Errorf("%w: contract %s is inactive", ErrInvalidFill, contract.Symbol)
	}
	if !contract.Expiry.After(now) {
		return nil, fmt.Errorf("%w: contract %s expired %s", ErrInvalidFill, contract.Symbol, contract.Expiry.Format("2006-01-02"))
	}

	// Both signal directions open long premium: BUY buys calls, SELL buys
	// puts. Size stays signed in the schema so the close formula
	// pnl = (exit - entry) * size covers externally entered shorts too.
	size := float64(qty) * float64(contract.Multiplier)

	pos := &storage.PositionRecord{
		ContractID:   contract.ID,
		Contract:     contract,
		SignalID:     &sig.ID,
		Size:         size,
		EntryPrice:   fillPrice,
		CurrentPrice: fillPrice,
		HighPrice:    fillPrice,
		StopLoss:     fillPrice * (1 - e.cfg.Trading.InitialStopPct),
		EntryTime:    now,
		Status:       storage.StatusOpen,
	}

	err := e.repo.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(pos).Error; err != nil {
			return fmt.Errorf("create position: %w", err)
		}

		execTime := now
		execPrice := fillPrice
		sig.IsExecuted = true
		sig.ExecutedAt = &execTime
		sig.ExecutionPrice = &execPrice
		sig.ContractSymbol = contract.Symbol
		if err := tx.Save(sig).Error; err != nil {
			return fmt.Errorf("mark signal executed: %w", err)
		}

		trade := &storage.OptionTrade{
			PositionID: pos.ID,
			Leg:        storage.TradeLegOpen,
			Side:       storage.SignalBuy,
			Price:      fillPrice,
			Quantity:   qty,
		}
		if err := tx.Create(trade).Error; err != nil {
			return fmt.Errorf("create open trade leg: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("position opened",
		"position_id", pos.ID, "contract", contract.Symbol,
		"entry", fillPrice, "size", size, "stop", pos.StopLoss)
	return pos, nil
}

// ExecuteSignal places the entry order and opens the position from its fill.
func (e *Engine) ExecuteSignal(ctx context.Context, sig *storage.SignalRecord, contract *storage.OptionContract, qty int64, st *session.State, now time.Time) (*storage.PositionRecord, error) {
	if st != nil && st.Halted() {
		return nil, fmt.Errorf("%w: %s", ErrHalted, st.HaltReason())
	}

	fill, err := e.exec.PlaceOrder(ctx, contract.Symbol, storage.SignalBuy, qty)
	if err != nil {
		return nil, fmt.Errorf("place entry order: %w", err)
	}

	e.recordOrder(fill, contract.Symbol, storage.SignalBuy, nil)

	pos, err := e.Open(sig, contract, fill.Price, fill.Quantity, st, now)
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// Refresh updates the position with the latest price, ratchets the trailing
// stop, and evaluates close triggers in fixed precedence: risk-forced close,
// contract expiry, stop-loss, opposing signal. The first match closes the
// position and determines the close reason. A non-nil fact means the
// position closed this cycle.
func (e *Engine) Refresh(ctx context.Context, pos *storage.PositionRecord, price float64, reversal *storage.SignalRecord, now time.Time) (*PnLFact, error) {
	if pos.Status == storage.StatusClosed {
		return nil, ErrPositionClosed
	}

	if price > 0 {
		pos.CurrentPrice = price
		if price > pos.HighPrice {
			pos.HighPrice = price
			// Stop only ratchets upward, never relaxes.
			if trail := pos.HighPrice * (1 - e.cfg.Trading.TrailingStopPct); trail > pos.StopLoss {
				pos.StopLoss = trail
			}
		}
	}
	if err := e.repo.SavePosition(pos); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}

	reason, detail := e.closeTrigger(pos, reversal, now)
	if reason == "" {
		return nil, nil
	}

	return e.executeClose(ctx, pos, reason, detail, now)
}

func (e *Engine) closeTrigger(pos *storage.PositionRecord, reversal *storage.SignalRecord, now time.Time) (reason, detail string) {
	if why, ok := e.pendingForce[pos.ID]; ok {
		return storage.ReasonRiskForced, why
	}

	if pos.Contract != nil && !pos.Contract.Expiry.After(now) {
		return storage.ReasonExpiry, fmt.Sprintf("contract expired %s", pos.Contract.Expiry.Format("2006-01-02"))
	}

	if pos.CurrentPrice <= pos.StopLoss {
		return storage.ReasonStopLoss,
			fmt.Sprintf("price %.4f at or below stop %.4f", pos.CurrentPrice, pos.StopLoss)
	}

	if reversal != nil && e.isOpposing(pos, reversal) {
		return storage.ReasonSignalReversal,
			fmt.Sprintf("opposing %s signal strength %.2f", reversal.Type, reversal.Strength)
	}

	return "", ""
}

func (e *Engine) isOpposing(pos *storage.PositionRecord, sig *storage.SignalRecord) bool {
	if math.Abs(sig.Strength) < e.cfg.Signal.Threshold {
		return false
	}
	if pos.Contract == nil {
		return false
	}
	// A long call is reversed by a SELL signal, a long put by a BUY.
	switch pos.Contract.Type {
	case storage.ContractCall:
		return sig.Type == storage.SignalSell
	case storage.ContractPut:
		return sig.Type == storage.SignalBuy
	}
	return false
}

// executeClose places the exit order and settles the close. A failed order
// leaves the position OPEN, records a MEDIUM risk event, and lets the next
// cycle retry.
func (e *Engine) executeClose(ctx context.Context, pos *storage.PositionRecord, reason, detail string, now time.Time) (*PnLFact, error) {
	symbol := ""
	multiplier := e.cfg.Trading.ContractMultiplier
	if pos.Contract != nil {
		symbol = pos.Contract.Symbol
		multiplier = pos.Contract.Multiplier
	}
	qty := int64(math.Abs(pos.Size)) / int64(multiplier)

	side := storage.SignalSell
	if pos.Size < 0 {
		side = storage.SignalBuy
	}

	fill, err := e.exec.PlaceOrder(ctx, symbol, side, qty)
	if err != nil {
		e.failedCloses[pos.ID]++
		e.logger.Error("close order failed, position kept open",
			"position_id", pos.ID, "contract", symbol, "reason", reason,
			"attempt", e.failedCloses[pos.ID], "error", err)

		posID := pos.ID
		riskErr := e.repo.SaveRiskEvent(&storage.RiskEvent{
			EventType:      "close_failed",
			Severity:       storage.SeverityMedium,
			Description:    fmt.Sprintf("close attempt %d failed (%s): %v", e.failedCloses[pos.ID], reason, err),
			ContractSymbol: symbol,
			PositionID:     &posID,
			ActionTaken:    "position kept OPEN, close retried next cycle",
		})
		if riskErr != nil {
			e.logger.Error("save risk event", "error", riskErr)
		}
		return nil, nil
	}

	e.recordOrder(fill, symbol, side, &pos.ID)

	fact, err := e.Close(pos, fill.Price, reason, now)
	if err != nil {
		return nil, err
	}

	delete(e.pendingForce, pos.ID)
	delete(e.failedCloses, pos.ID)

	e.logger.Info("position closed",
		"position_id", pos.ID, "contract", symbol, "reason", reason,
		"detail", detail, "exit", fill.Price, "pnl", fact.PnL)
	return fact, nil
}

// Close settles the terminal transition. Status, exit time, pnl and close
// reason become visible atomically; a CLOSED position is never mutated again.
func (e *Engine) Close(pos *storage.PositionRecord, exitPrice float64, reason string, now time.Time) (*PnLFact, error) {
	if pos.Status == storage.StatusClosed {
		return nil, ErrPositionClosed
	}

	pnl := (exitPrice - pos.EntryPrice) * pos.Size
	exitTime := now

	multiplier := e.cfg.Trading.ContractMultiplier
	symbol := ""
	if pos.Contract != nil {
		multiplier = pos.Contract.Multiplier
		symbol = pos.Contract.Symbol
	}
	qty := int64(math.Abs(pos.Size)) / int64(multiplier)

	side := storage.SignalSell
	if pos.Size < 0 {
		side = storage.SignalBuy
	}

	err := e.repo.Transaction(func(tx *gorm.DB) error {
		pos.Status = storage.StatusClosed
		pos.CurrentPrice = exitPrice
		pos.ExitTime = &exitTime
		pos.PnL = &pnl
		pos.CloseReason = reason
		if err := tx.Save(pos).Error; err != nil {
			return fmt.Errorf("save closed position: %w", err)
		}

		trade := &storage.OptionTrade{
			PositionID: pos.ID,
			Leg:        storage.TradeLegClose,
			Side:       side,
			Price:      exitPrice,
			Quantity:   qty,
		}
		if err := tx.Create(trade).Error; err != nil {
			return fmt.Errorf("create close trade leg: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &PnLFact{
		PositionID:     pos.ID,
		ContractSymbol: symbol,
		PnL:            pnl,
		Reason:         reason,
		ClosedAt:       exitTime,
	}, nil
}

func (e *Engine) recordOrder(fill *market.Fill, symbol, side string, positionID *uint) {
	if err := e.repo.CreateOrder(&storage.OrderStatus{
		OrderID:        fill.OrderID,
		ContractSymbol: symbol,
		Side:           side,
		Quantity:       fill.Quantity,
		Price:          fill.Price,
		Status:         storage.OrderFilled,
		PositionID:     positionID,
	}); err != nil {
		e.logger.Error("record order status", "order_id", fill.OrderID, "error", err)
	}
}
