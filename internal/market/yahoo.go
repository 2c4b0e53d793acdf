package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/halverin/opt-trader/internal/logger"
)

const (
	yahooChartURL   = "https://query1.finance.yahoo.com/v8/finance/chart/%s?interval=5m&range=1d"
	yahooOptionsURL = "https://query1.finance.yahoo.com/v7/finance/options/%s"
	vixSymbol       = "^VIX"
)

// YahooProvider serves snapshots and option chains from the Yahoo Finance
// public endpoints.
type YahooProvider struct {
	httpClient *http.Client
	logger     *logger.Logger
}

func NewYahooProvider(log *logger.Logger) *YahooProvider {
	return &YahooProvider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type optionsResponse struct {
	OptionChain struct {
		Result []struct {
			Options []struct {
				Calls []yahooContract `json:"calls"`
				Puts  []yahooContract `json:"puts"`
			} `json:"options"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"optionChain"`
}

// yahooContract mirrors the v7 options payload, which carries no greeks.
// Quotes from this provider leave Delta and Theta zero.
type yahooContract struct {
	ContractSymbol string  `json:"contractSymbol"`
	Strike         float64 `json:"strike"`
	Expiration     int64   `json:"expiration"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	LastPrice      float64 `json:"lastPrice"`
	Volume         int64   `json:"volume"`
	OpenInterest   int64   `json:"openInterest"`
}

func (p *YahooProvider) LatestSnapshot(ctx context.Context, underlying string) (*Snapshot, error) {
	chart, err := p.fetchChart(ctx, underlying)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Underlying: underlying,
		Close:      chart.Chart.Result[0].Meta.RegularMarketPrice,
		Timestamp:  time.Unix(chart.Chart.Result[0].Meta.RegularMarketTime, 0),
	}

	if quotes := chart.Chart.Result[0].Indicators.Quote; len(quotes) > 0 {
		q := quotes[0]
		if last := lastNonZero(q.Open); last > 0 {
			snap.Open = last
		}
		if last := lastNonZero(q.High); last > 0 {
			snap.High = last
		}
		if last := lastNonZero(q.Low); last > 0 {
			snap.Low = last
		}
		if last := lastNonZero(q.Volume); last > 0 {
			snap.Volume = last
		}
	}

	// VIX failures degrade the snapshot, they do not block it.
	vixChart, err := p.fetchChart(ctx, vixSymbol)
	if err != nil {
		p.logger.Debug("fetch VIX failed", "error", err)
	} else {
		snap.VIX = vixChart.Chart.Result[0].Meta.RegularMarketPrice
	}

	return snap, nil
}

func (p *YahooProvider) OptionChainQuotes(ctx context.Context, underlying string) ([]OptionQuote, error) {
	body, err := p.get(ctx, fmt.Sprintf(yahooOptionsURL, underlying))
	if err != nil {
		return nil, err
	}

	var chain optionsResponse
	if err := json.Unmarshal(body, &chain); err != nil {
		return nil, fmt.Errorf("parse option chain: %w", err)
	}
	if chain.OptionChain.Error != nil {
		return nil, fmt.Errorf("option chain for %s: %s", underlying, chain.OptionChain.Error.Description)
	}
	if len(chain.OptionChain.Result) == 0 {
		return nil, fmt.Errorf("empty option chain for %s", underlying)
	}

	var quotes []OptionQuote
	for _, opts := range chain.OptionChain.Result[0].Options {
		for _, c := range opts.Calls {
			quotes = append(quotes, toQuote(c, underlying, "CALL"))
		}
		for _, c := range opts.Puts {
			quotes = append(quotes, toQuote(c, underlying, "PUT"))
		}
	}
	return quotes, nil
}

func (p *YahooProvider) fetchChart(ctx context.Context, symbol string) (*chartResponse, error) {
	body, err := p.get(ctx, fmt.Sprintf(yahooChartURL, symbol))
	if err != nil {
		return nil, err
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("parse chart: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("chart for %s: %s", symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("empty chart for %s", symbol)
	}
	return &chart, nil
}

func (p *YahooProvider) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// Yahoo rejects requests without a browser-like user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo returned status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func toQuote(c yahooContract, underlying, optType string) OptionQuote {
	return OptionQuote{
		Symbol:       c.ContractSymbol,
		Underlying:   underlying,
		Type:         optType,
		Strike:       c.Strike,
		Expiry:       time.Unix(c.Expiration, 0),
		Bid:          c.Bid,
		Ask:          c.Ask,
		Last:         c.LastPrice,
		Volume:       c.Volume,
		OpenInterest: c.OpenInterest,
		Multiplier:   100,
	}
}

func lastNonZero(values []float64) float64 {
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] != 0 {
			return values[i]
		}
	}
	return 0
}
