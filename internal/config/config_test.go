package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
trading:
  symbols: [SPY, QQQ]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"SPY", "QQQ"}, cfg.Trading.Symbols)
	assert.Equal(t, 5, cfg.Trading.MaxPositions)
	assert.Equal(t, 0.10, cfg.Trading.InitialStopPct)
	assert.Equal(t, 0.20, cfg.Trading.TrailingStopPct)
	assert.Equal(t, 100, cfg.Trading.ContractMultiplier)
	assert.Equal(t, 0.6, cfg.Signal.Threshold)
	assert.Equal(t, 35, cfg.Signal.MinHistory)
	assert.Equal(t, 0.10, cfg.Risk.MaxDrawdown)
	assert.Equal(t, 35.0, cfg.Risk.VIXLimit)
	assert.Equal(t, "America/New_York", cfg.Session.Timezone)
	assert.Equal(t, "09:30", cfg.Session.OpenTime)
	assert.Equal(t, "16:00", cfg.Session.CloseTime)
	assert.Equal(t, 8080, cfg.Web.Port)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
trading:
  symbols: [IWM]
  interval: 5m
  max_positions: 2
  trailing_stop_pct: 0.15
risk:
  vix_warning: 22
  vix_limit: 30
session:
  force_close_ahead: 30m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.TradingInterval())
	assert.Equal(t, 2, cfg.Trading.MaxPositions)
	assert.Equal(t, 0.15, cfg.Trading.TrailingStopPct)
	assert.Equal(t, 22.0, cfg.Risk.VIXWarning)
	assert.Equal(t, 30.0, cfg.Risk.VIXLimit)
	assert.Equal(t, 30*time.Minute, cfg.ForceCloseAhead())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing symbols",
			mutate:  func(c *Config) { c.Trading.Symbols = nil },
			wantErr: "trading.symbols",
		},
		{
			name:    "bad interval",
			mutate:  func(c *Config) { c.Trading.Interval = "soon" },
			wantErr: "trading.interval",
		},
		{
			name:    "trailing stop out of range",
			mutate:  func(c *Config) { c.Trading.TrailingStopPct = 1.5 },
			wantErr: "trailing_stop_pct",
		},
		{
			name:    "min history below two",
			mutate:  func(c *Config) { c.Signal.MinHistory = 1 },
			wantErr: "min_history",
		},
		{
			name:    "rsi bands inverted",
			mutate:  func(c *Config) { c.Signal.RSIOversold = 80 },
			wantErr: "rsi_oversold",
		},
		{
			name:    "vix warning above limit",
			mutate:  func(c *Config) { c.Risk.VIXWarning = 50 },
			wantErr: "vix_warning",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Session.Timezone = "Mars/Olympus" },
			wantErr: "session.timezone",
		},
		{
			name:    "bad open time",
			mutate:  func(c *Config) { c.Session.OpenTime = "9am" },
			wantErr: "open_time",
		},
		{
			name:    "telegram enabled without token",
			mutate:  func(c *Config) { c.Telegram.Enabled = true },
			wantErr: "bot_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Trading.Symbols = []string{"SPY"}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
