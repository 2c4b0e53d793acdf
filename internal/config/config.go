package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Trading  TradingConfig  `yaml:"trading"`
	Signal   SignalConfig   `yaml:"signal"`
	Risk     RiskConfig     `yaml:"risk"`
	Session  SessionConfig  `yaml:"session"`
	Telegram TelegramConfig `yaml:"telegram"`
	Web      WebConfig      `yaml:"web"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type TradingConfig struct {
	Symbols            []string `yaml:"symbols"`
	Interval           string   `yaml:"interval"`
	InitialCash        float64  `yaml:"initial_cash"`
	MaxPositions       int      `yaml:"max_positions"`
	MaxPositionValue   float64  `yaml:"max_position_value"`
	InitialStopPct     float64  `yaml:"initial_stop_pct"`
	TrailingStopPct    float64  `yaml:"trailing_stop_pct"`
	ContractMultiplier int      `yaml:"contract_multiplier"`
	MinDaysToExpiry    int      `yaml:"min_days_to_expiry"`
	MaxDaysToExpiry    int      `yaml:"max_days_to_expiry"`
	MinOptionVolume    int64    `yaml:"min_option_volume"`
	MinOpenInterest    int64    `yaml:"min_open_interest"`
	MaxBidAskSpread    float64  `yaml:"max_bid_ask_spread"`
}

type SignalConfig struct {
	MinHistory       int     `yaml:"min_history"`
	Threshold        float64 `yaml:"threshold"`
	RSIOversold      float64 `yaml:"rsi_oversold"`
	RSIOverbought    float64 `yaml:"rsi_overbought"`
	VolumeSurge      float64 `yaml:"volume_surge"`
	MomentumWeight   float64 `yaml:"momentum_weight"`
	RSIWeight        float64 `yaml:"rsi_weight"`
	VolumeWeight     float64 `yaml:"volume_weight"`
	VolatilityWeight float64 `yaml:"volatility_weight"`
}

type RiskConfig struct {
	MaxDrawdown        float64 `yaml:"max_drawdown"`
	VIXWarning         float64 `yaml:"vix_warning"`
	VIXLimit           float64 `yaml:"vix_limit"`
	MinVIX             float64 `yaml:"min_vix"`
	MaxVIX             float64 `yaml:"max_vix"`
	MaxPositionLossPct float64 `yaml:"max_position_loss_pct"`
	MaxFailedCloses    int     `yaml:"max_failed_closes"`
}

type SessionConfig struct {
	Timezone        string `yaml:"timezone"`
	OpenTime        string `yaml:"open_time"`
	CloseTime       string `yaml:"close_time"`
	ForceCloseAhead string `yaml:"force_close_ahead"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns a config with every default applied and no symbols set.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Trading.Interval == "" {
		cfg.Trading.Interval = "1m"
	}
	if cfg.Trading.InitialCash == 0 {
		cfg.Trading.InitialCash = 100000
	}
	if cfg.Trading.MaxPositions == 0 {
		cfg.Trading.MaxPositions = 5
	}
	if cfg.Trading.MaxPositionValue == 0 {
		cfg.Trading.MaxPositionValue = 10000
	}
	if cfg.Trading.InitialStopPct == 0 {
		cfg.Trading.InitialStopPct = 0.10
	}
	if cfg.Trading.TrailingStopPct == 0 {
		cfg.Trading.TrailingStopPct = 0.20
	}
	if cfg.Trading.ContractMultiplier == 0 {
		cfg.Trading.ContractMultiplier = 100
	}
	if cfg.Trading.MinDaysToExpiry == 0 {
		cfg.Trading.MinDaysToExpiry = 7
	}
	if cfg.Trading.MaxDaysToExpiry == 0 {
		cfg.Trading.MaxDaysToExpiry = 45
	}
	if cfg.Trading.MinOptionVolume == 0 {
		cfg.Trading.MinOptionVolume = 100
	}
	if cfg.Trading.MinOpenInterest == 0 {
		cfg.Trading.MinOpenInterest = 50
	}
	if cfg.Trading.MaxBidAskSpread == 0 {
		cfg.Trading.MaxBidAskSpread = 0.5
	}

	if cfg.Signal.MinHistory == 0 {
		cfg.Signal.MinHistory = 35
	}
	if cfg.Signal.Threshold == 0 {
		cfg.Signal.Threshold = 0.6
	}
	if cfg.Signal.RSIOversold == 0 {
		cfg.Signal.RSIOversold = 30
	}
	if cfg.Signal.RSIOverbought == 0 {
		cfg.Signal.RSIOverbought = 70
	}
	if cfg.Signal.VolumeSurge == 0 {
		cfg.Signal.VolumeSurge = 1.5
	}
	if cfg.Signal.MomentumWeight == 0 {
		cfg.Signal.MomentumWeight = 0.35
	}
	if cfg.Signal.RSIWeight == 0 {
		cfg.Signal.RSIWeight = 0.25
	}
	if cfg.Signal.VolumeWeight == 0 {
		cfg.Signal.VolumeWeight = 0.20
	}
	if cfg.Signal.VolatilityWeight == 0 {
		cfg.Signal.VolatilityWeight = 0.20
	}

	if cfg.Risk.MaxDrawdown == 0 {
		cfg.Risk.MaxDrawdown = 0.10
	}
	if cfg.Risk.VIXWarning == 0 {
		cfg.Risk.VIXWarning = 25
	}
	if cfg.Risk.VIXLimit == 0 {
		cfg.Risk.VIXLimit = 35
	}
	if cfg.Risk.MinVIX == 0 {
		cfg.Risk.MinVIX = 15
	}
	if cfg.Risk.MaxVIX == 0 {
		cfg.Risk.MaxVIX = 40
	}
	if cfg.Risk.MaxPositionLossPct == 0 {
		cfg.Risk.MaxPositionLossPct = 0.30
	}
	if cfg.Risk.MaxFailedCloses == 0 {
		cfg.Risk.MaxFailedCloses = 3
	}

	if cfg.Session.Timezone == "" {
		cfg.Session.Timezone = "America/New_York"
	}
	if cfg.Session.OpenTime == "" {
		cfg.Session.OpenTime = "09:30"
	}
	if cfg.Session.CloseTime == "" {
		cfg.Session.CloseTime = "16:00"
	}
	if cfg.Session.ForceCloseAhead == "" {
		cfg.Session.ForceCloseAhead = "15m"
	}

	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols is required")
	}
	if _, err := time.ParseDuration(c.Trading.Interval); err != nil {
		return fmt.Errorf("invalid trading.interval %q: %w", c.Trading.Interval, err)
	}
	if c.Trading.InitialStopPct <= 0 || c.Trading.InitialStopPct >= 1 {
		return fmt.Errorf("trading.initial_stop_pct must be in (0, 1), got %v", c.Trading.InitialStopPct)
	}
	if c.Trading.TrailingStopPct <= 0 || c.Trading.TrailingStopPct >= 1 {
		return fmt.Errorf("trading.trailing_stop_pct must be in (0, 1), got %v", c.Trading.TrailingStopPct)
	}
	if c.Signal.Threshold <= 0 || c.Signal.Threshold > 1 {
		return fmt.Errorf("signal.threshold must be in (0, 1], got %v", c.Signal.Threshold)
	}
	// Evaluation compares the latest bar against the one before it.
	if c.Signal.MinHistory < 2 {
		return fmt.Errorf("signal.min_history must be at least 2, got %d", c.Signal.MinHistory)
	}
	if c.Signal.RSIOversold >= c.Signal.RSIOverbought {
		return fmt.Errorf("signal.rsi_oversold must be below rsi_overbought")
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		return fmt.Errorf("risk.max_drawdown must be in (0, 1), got %v", c.Risk.MaxDrawdown)
	}
	if c.Risk.VIXWarning >= c.Risk.VIXLimit {
		return fmt.Errorf("risk.vix_warning must be below vix_limit")
	}
	if c.Risk.MinVIX >= c.Risk.MaxVIX {
		return fmt.Errorf("risk.min_vix must be below max_vix")
	}
	if c.Risk.MaxPositionLossPct <= 0 || c.Risk.MaxPositionLossPct >= 1 {
		return fmt.Errorf("risk.max_position_loss_pct must be in (0, 1), got %v", c.Risk.MaxPositionLossPct)
	}
	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return fmt.Errorf("invalid session.timezone %q: %w", c.Session.Timezone, err)
	}
	if _, err := time.ParseDuration(c.Session.ForceCloseAhead); err != nil {
		return fmt.Errorf("invalid session.force_close_ahead %q: %w", c.Session.ForceCloseAhead, err)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"session.open_time", c.Session.OpenTime},
		{"session.close_time", c.Session.CloseTime},
	} {
		if _, err := time.Parse("15:04", field.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", field.name, field.value, err)
		}
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

func (c *Config) MarketLocation() *time.Location {
	loc, err := time.LoadLocation(c.Session.Timezone)
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return loc
}

func (c *Config) TradingInterval() time.Duration {
	d, _ := time.ParseDuration(c.Trading.Interval)
	return d
}

func (c *Config) ForceCloseAhead() time.Duration {
	d, _ := time.ParseDuration(c.Session.ForceCloseAhead)
	return d
}
