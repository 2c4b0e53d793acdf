// Package signal scores directional entry signals from indicator history and
// picks the option contract to express them with.
package signal

import (
	"fmt"
	"time"

	"github.com/halverin/opt-trader/internal/config"
	"github.com/halverin/opt-trader/internal/logger"
	"github.com/halverin/opt-trader/internal/market"
	"github.com/halverin/opt-trader/internal/storage"
)

type Engine struct {
	repo   *storage.Repository
	cfg    *config.Config
	logger *logger.Logger
}

func NewEngine(repo *storage.Repository, cfg *config.Config, log *logger.Logger) *Engine {
	return &Engine{repo: repo, cfg: cfg, logger: log}
}

// Evaluate scores the underlying from its indicator history and returns a
// persisted BUY/SELL signal, or nil when indicators disagree or history is
// too short. A nil signal is a normal outcome, not an error.
func (e *Engine) Evaluate(underlying string, snap *market.Snapshot, history []storage.OptionMetric) (*storage.SignalRecord, error) {
	// Scoring needs the latest bar plus the one before it regardless of
	// how low MinHistory is configured.
	if len(history) < 2 || len(history) < e.cfg.Signal.MinHistory {
		e.logger.Debug("insufficient indicator history",
			"underlying", underlying, "have", len(history), "need", e.cfg.Signal.MinHistory)
		return nil, nil
	}

	current := history[len(history)-1]
	prev := history[len(history)-2]

	score := e.compositeScore(current, prev)

	threshold := e.cfg.Signal.Threshold
	var sigType string
	switch {
	case score >= threshold:
		sigType = storage.SignalBuy
	case score <= -threshold:
		sigType = storage.SignalSell
	default:
		return nil, nil
	}

	sig := &storage.SignalRecord{
		Underlying:  underlying,
		Type:        sigType,
		Strength:    score,
		RSI:         current.RSI,
		MACD:        current.MACD,
		MACDSignal:  current.MACDSignal,
		MACDHist:    current.MACDHist,
		VolumeRatio: current.VolumeRatio,
		VIX:         snap.VIX,
	}
	if err := e.repo.SaveSignal(sig); err != nil {
		return nil, fmt.Errorf("save signal: %w", err)
	}

	e.logger.Info("signal generated",
		"underlying", underlying, "type", sigType, "strength", score,
		"rsi", current.RSI, "macd_hist", current.MACDHist,
		"volume_ratio", current.VolumeRatio, "vix", snap.VIX)
	return sig, nil
}

// compositeScore is a weighted agreement of momentum, RSI band, volume surge
// and VIX regime, clamped to [-1, 1]. Positive is bullish.
func (e *Engine) compositeScore(current, prev storage.OptionMetric) float64 {
	cfg := e.cfg.Signal

	var momentum float64
	if current.MACD > current.MACDSignal {
		momentum += 0.5
	} else if current.MACD < current.MACDSignal {
		momentum -= 0.5
	}
	if current.MACDHist > prev.MACDHist {
		momentum += 0.5
	} else if current.MACDHist < prev.MACDHist {
		momentum -= 0.5
	}

	var rsi float64
	switch {
	case current.RSI <= cfg.RSIOversold:
		rsi = 1
	case current.RSI >= cfg.RSIOverbought:
		rsi = -1
	}

	var volume float64
	if current.VolumeRatio >= cfg.VolumeSurge {
		// A surge confirms the direction the price just moved.
		switch {
		case current.Close > prev.Close:
			volume = 1
		case current.Close < prev.Close:
			volume = -1
		}
	}

	var volatility float64
	switch {
	case current.VIX > 0 && current.VIX <= e.cfg.Risk.VIXWarning:
		volatility = 1
	case current.VIX >= e.cfg.Risk.VIXLimit:
		volatility = -1
	}

	score := momentum*cfg.MomentumWeight +
		rsi*cfg.RSIWeight +
		volume*cfg.VolumeWeight +
		volatility*cfg.VolatilityWeight

	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}

// SelectContract picks the best quote from the chain for the signal
// direction: calls for BUY, puts for SELL. Quotes failing the liquidity and
// expiry-window filters are skipped; survivors are scored on expiry
// proximity, liquidity, spread and strike distance from spot.
func (e *Engine) SelectContract(quotes []market.OptionQuote, sigType string, spot float64, now time.Time) *market.OptionQuote {
	cfg := e.cfg.Trading

	wantType := storage.ContractCall
	if sigType == storage.SignalSell {
		wantType = storage.ContractPut
	}

	var best *market.OptionQuote
	var bestScore float64

	for i := range quotes {
		q := quotes[i]
		if q.Type != wantType {
			continue
		}
		if q.Volume < cfg.MinOptionVolume || q.OpenInterest < cfg.MinOpenInterest {
			continue
		}
		if q.Spread() > cfg.MaxBidAskSpread {
			continue
		}
		days := int(q.Expiry.Sub(now).Hours() / 24)
		if days < cfg.MinDaysToExpiry || days > cfg.MaxDaysToExpiry {
			continue
		}

		score := e.contractScore(q, spot, days)
		if best == nil || score > bestScore {
			best = &quotes[i]
			bestScore = score
		}
	}

	return best
}

func (e *Engine) contractScore(q market.OptionQuote, spot float64, daysToExpiry int) float64 {
	cfg := e.cfg.Trading

	expiryRange := float64(cfg.MaxDaysToExpiry - cfg.MinDaysToExpiry)
	timeScore := 1.0
	if expiryRange > 0 {
		timeScore = 1.0 - float64(daysToExpiry-cfg.MinDaysToExpiry)/expiryRange
	}

	volumeScore := float64(q.Volume) / float64(cfg.MinOptionVolume)
	if volumeScore > 1 {
		volumeScore = 1
	}

	spreadScore := 1.0
	if cfg.MaxBidAskSpread > 0 {
		s := q.Spread() / cfg.MaxBidAskSpread
		if s > 1 {
			s = 1
		}
		spreadScore = 1 - s
	}

	priceScore := 0.0
	if spot > 0 {
		diff := q.Strike - spot
		if diff < 0 {
			diff = -diff
		}
		d := diff / spot
		if d > 1 {
			d = 1
		}
		priceScore = 1 - d
	}

	return timeScore*0.3 + volumeScore*0.2 + spreadScore*0.2 + priceScore*0.3
}
