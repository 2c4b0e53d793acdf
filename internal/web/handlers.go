package web

import (
	"html/template"
	"net/http"
	"time"
)

type OpenPosition struct {
	Symbol       string
	Underlying   string
	EntryPrice   float64
	CurrentPrice float64
	Size         float64
	StopLoss     float64
	HighPrice    float64
	EntryTime    time.Time
	PnL          float64
	PnLPercent   float64
}

type DashboardData struct {
	TotalValue     float64
	Cash           float64
	DailyPnL       float64
	WinRate        float64
	PositionsCount int
	Halted         bool
	HaltReason     string
	OpenPositions  []OpenPosition
	RecentSignals  []SignalRow
	RecentEvents   []EventRow
}

type SignalRow struct {
	CreatedAt  time.Time
	Underlying string
	Type       string
	Strength   float64
	Executed   bool
}

type EventRow struct {
	CreatedAt   time.Time
	EventType   string
	Severity    string
	Description string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := DashboardData{}
	data.Halted, data.HaltReason = s.halted()

	if balance, err := s.repo.GetLatestBalance(); err == nil && balance != nil {
		data.TotalValue = balance.TotalValue
		data.Cash = balance.Cash
	}

	today := time.Now().In(s.config.MarketLocation()).Format("2006-01-02")
	if stat, err := s.repo.GetDailyStat(today); err == nil && stat != nil {
		data.DailyPnL = stat.TotalPnL
		data.WinRate = stat.WinRate * 100
	}

	if positions, err := s.repo.GetOpenPositions(); err == nil {
		data.PositionsCount = len(positions)
		for i := range positions {
			p := &positions[i]
			op := OpenPosition{
				EntryPrice:   p.EntryPrice,
				CurrentPrice: p.CurrentPrice,
				Size:         p.Size,
				StopLoss:     p.StopLoss,
				HighPrice:    p.HighPrice,
				EntryTime:    p.EntryTime,
				PnL:          (p.CurrentPrice - p.EntryPrice) * p.Size,
			}
			if p.Contract != nil {
				op.Symbol = p.Contract.Symbol
				op.Underlying = p.Contract.Underlying
			}
			if p.EntryPrice > 0 {
				op.PnLPercent = (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
			}
			data.OpenPositions = append(data.OpenPositions, op)
		}
	}

	if signals, err := s.repo.GetRecentSignals(20); err == nil {
		for _, sig := range signals {
			data.RecentSignals = append(data.RecentSignals, SignalRow{
				CreatedAt:  sig.CreatedAt,
				Underlying: sig.Underlying,
				Type:       sig.Type,
				Strength:   sig.Strength,
				Executed:   sig.IsExecuted,
			})
		}
	}

	if events, err := s.repo.GetRecentRiskEvents(20); err == nil {
		for _, ev := range events {
			data.RecentEvents = append(data.RecentEvents, EventRow{
				CreatedAt:   ev.CreatedAt,
				EventType:   ev.EventType,
				Severity:    ev.Severity,
				Description: ev.Description,
			})
		}
	}

	tmpl, err := template.ParseFiles("templates/dashboard.html")
	if err != nil {
		s.logger.Error("parse template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		s.logger.Error("execute template", "error", err)
	}
}
