package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete lifecycle-manager configuration
type Config struct {
	Exchange  ExchangeConfig  `json:"exchange" yaml:"exchange"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Sizing    SizingConfig    `json:"sizing" yaml:"sizing"`
	Stops     StopsConfig     `json:"stops" yaml:"stops"`
	Exit      ExitConfig      `json:"exit" yaml:"exit"`
	Executor  ExecutorConfig  `json:"executor" yaml:"executor"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// ExchangeConfig contains REST client parameters
type ExchangeConfig struct {
	BaseURL        string  `json:"base_url" yaml:"base_url"`
	Timeout        string  `json:"timeout" yaml:"timeout"` // e.g. "10s"
	RequestsPerSec float64 `json:"requests_per_sec" yaml:"requests_per_sec"`
	QuoteCurrency  string  `json:"quote_currency" yaml:"quote_currency"`
}

// LedgerConfig contains trade ledger parameters
type LedgerConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

// SizingConfig contains Kelly position sizing parameters.
// Percentages are fractions (0.20 == 20%).
type SizingConfig struct {
	KellyCap        float64 `json:"kelly_cap" yaml:"kelly_cap"`                   // 0.30
	MaxPositionPct  float64 `json:"max_position_pct" yaml:"max_position_pct"`     // 0.20
	BasePositionPct float64 `json:"base_position_pct" yaml:"base_position_pct"`   // 0.05
	MinTrades       int     `json:"min_trades" yaml:"min_trades"`                 // 10
	MinWinRate      float64 `json:"min_win_rate" yaml:"min_win_rate"`             // 0.30 estimation floor
	MaxWinRate      float64 `json:"max_win_rate" yaml:"max_win_rate"`             // 0.80 estimation ceiling
}

// StopsConfig contains trailing stop parameters
type StopsConfig struct {
	MinRisePct     float64 `json:"min_rise_pct" yaml:"min_rise_pct"`         // 0.08 activation profit
	MinHoldingDays int     `json:"min_holding_days" yaml:"min_holding_days"` // 3
	ATRMultiplier  float64 `json:"atr_multiplier" yaml:"atr_multiplier"`     // 1.0
	BaseStopPct    float64 `json:"base_stop_pct" yaml:"base_stop_pct"`       // 0.08 entry-anchored floor
	MinStopPct     float64 `json:"min_stop_pct" yaml:"min_stop_pct"`         // 0.05
	MaxStopPct     float64 `json:"max_stop_pct" yaml:"max_stop_pct"`         // 0.15

	// Volatility scaling by ATR/price ratio
	HighVolRatio   float64 `json:"high_vol_ratio" yaml:"high_vol_ratio"`     // 0.05
	MediumVolRatio float64 `json:"medium_vol_ratio" yaml:"medium_vol_ratio"` // 0.03
	HighVolFactor  float64 `json:"high_vol_factor" yaml:"high_vol_factor"`   // 1.5
	MedVolFactor   float64 `json:"med_vol_factor" yaml:"med_vol_factor"`     // 2.0
	LowVolFactor   float64 `json:"low_vol_factor" yaml:"low_vol_factor"`     // 2.5

	// Holding-period scaling, widest early
	ShortHoldDays   int     `json:"short_hold_days" yaml:"short_hold_days"`     // 3
	MidHoldDays     int     `json:"mid_hold_days" yaml:"mid_hold_days"`         // 7
	ShortHoldFactor float64 `json:"short_hold_factor" yaml:"short_hold_factor"` // 2.0
	MidHoldFactor   float64 `json:"mid_hold_factor" yaml:"mid_hold_factor"`     // 1.5
	LongHoldFactor  float64 `json:"long_hold_factor" yaml:"long_hold_factor"`   // 1.2

	// Strong uptrend exit suppression
	UptrendRSIMin    float64 `json:"uptrend_rsi_min" yaml:"uptrend_rsi_min"`       // 60
	UptrendRSIMax    float64 `json:"uptrend_rsi_max" yaml:"uptrend_rsi_max"`       // 80
	UptrendMA20Slope float64 `json:"uptrend_ma20_slope" yaml:"uptrend_ma20_slope"` // 0.02
	UptrendMinProfit float64 `json:"uptrend_min_profit" yaml:"uptrend_min_profit"` // 0.10
}

// KellyStopConfig gates the Kelly-derived drawdown stop
type KellyStopConfig struct {
	MinHoldingDays int     `json:"min_holding_days" yaml:"min_holding_days"` // 3
	MinWinRate     float64 `json:"min_win_rate" yaml:"min_win_rate"`         // 0.40
	MinKelly       float64 `json:"min_kelly" yaml:"min_kelly"`               // 0.05
	MinPct         float64 `json:"min_pct" yaml:"min_pct"`                   // 0.05
	MaxPct         float64 `json:"max_pct" yaml:"max_pct"`                   // 0.15
	ATRMultiplier  float64 `json:"atr_multiplier" yaml:"atr_multiplier"`     // 2.0
}

// ExitConfig contains exit waterfall parameters
type ExitConfig struct {
	// Priority 1: stop-loss
	FixedStopPct  float64         `json:"fixed_stop_pct" yaml:"fixed_stop_pct"`     // 0.08
	ATRStopMinPct float64         `json:"atr_stop_min_pct" yaml:"atr_stop_min_pct"` // 0.03
	ATRStopMaxPct float64         `json:"atr_stop_max_pct" yaml:"atr_stop_max_pct"` // 0.12
	KellyStop     KellyStopConfig `json:"kelly_stop" yaml:"kelly_stop"`

	// Priority 2: trend reversal
	GapGraceHours    int     `json:"gap_grace_hours" yaml:"gap_grace_hours"`         // 24
	GapShortDays     int     `json:"gap_short_days" yaml:"gap_short_days"`           // 5
	GapShortPct      float64 `json:"gap_short_pct" yaml:"gap_short_pct"`             // 0.05
	GapLongPct       float64 `json:"gap_long_pct" yaml:"gap_long_pct"`               // 0.02
	GapLoosePct      float64 `json:"gap_loose_pct" yaml:"gap_loose_pct"`             // 0.025
	GapLooseLossPct  float64 `json:"gap_loose_loss_pct" yaml:"gap_loose_loss_pct"`   // 0.03
	SupportBreakPct  float64 `json:"support_break_pct" yaml:"support_break_pct"`     // 0.02 below MA20
	VolumeConfirm    float64 `json:"volume_confirm" yaml:"volume_confirm"`           // 1.5
	RSIOversold      float64 `json:"rsi_oversold" yaml:"rsi_oversold"`               // 40
	ADXStrong        float64 `json:"adx_strong" yaml:"adx_strong"`                   // 25
	VolumeSpike      float64 `json:"volume_spike" yaml:"volume_spike"`               // 2.0
	SharpDropPct     float64 `json:"sharp_drop_pct" yaml:"sharp_drop_pct"`           // 0.03
	DistMinProfit    float64 `json:"dist_min_profit" yaml:"dist_min_profit"`         // 0.30
	DistNearHighPct  float64 `json:"dist_near_high_pct" yaml:"dist_near_high_pct"`   // 0.05
	DistVolumeShrink float64 `json:"dist_volume_shrink" yaml:"dist_volume_shrink"`   // 0.5

	// Priority 3: profit-taking
	BigWinnerPct            float64   `json:"big_winner_pct" yaml:"big_winner_pct"` // 1.00
	BigWinnerOverridesStops bool      `json:"big_winner_overrides_stops" yaml:"big_winner_overrides_stops"`
	FixedTakeProfitPct      float64   `json:"fixed_take_profit_pct" yaml:"fixed_take_profit_pct"` // 0.50
	HoldingTakeProfit       []TPStage `json:"holding_take_profit" yaml:"holding_take_profit"`
	MarketTPMinProfit       float64   `json:"market_tp_min_profit" yaml:"market_tp_min_profit"` // 0.25
	RSIOverbought           float64   `json:"rsi_overbought" yaml:"rsi_overbought"`             // 70
}

// TPStage maps a holding window to a take-profit threshold.
// MaxDays 0 means "and beyond".
type TPStage struct {
	MaxDays int     `json:"max_days" yaml:"max_days"`
	Pct     float64 `json:"pct" yaml:"pct"`
}

// ExecutorConfig contains order placement parameters
type ExecutorConfig struct {
	TakerFeeRate   float64 `json:"taker_fee_rate" yaml:"taker_fee_rate"`     // 0.00139
	MinBuyValue    float64 `json:"min_buy_value" yaml:"min_buy_value"`       // 10000 KRW
	MinSellValue   float64 `json:"min_sell_value" yaml:"min_sell_value"`     // 5000 KRW
	InitialStopPct float64 `json:"initial_stop_pct" yaml:"initial_stop_pct"` // 0.08
	FillPoll       string  `json:"fill_poll" yaml:"fill_poll"`               // "500ms"
	FillTimeout    string  `json:"fill_timeout" yaml:"fill_timeout"`         // "30s"
}

// ReconcileConfig contains portfolio reconciliation parameters
type ReconcileConfig struct {
	SyncPolicy string   `json:"sync_policy" yaml:"sync_policy"` // ignore|adopt|alert
	Tolerance  float64  `json:"tolerance" yaml:"tolerance"`     // 1e-8
	Blacklist  []string `json:"blacklist,omitempty" yaml:"blacklist,omitempty"`
}

// EngineConfig contains trading cycle parameters
type EngineConfig struct {
	MaxDailyTrades int    `json:"max_daily_trades" yaml:"max_daily_trades"` // 10
	MaxPositions   int    `json:"max_positions" yaml:"max_positions"`       // 8
	CycleBudget    string `json:"cycle_budget" yaml:"cycle_budget"`         // "5m"
	DryRun         bool   `json:"dry_run" yaml:"dry_run"`
}

// MetricsConfig contains the optional Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen,omitempty" yaml:"listen,omitempty"` // ":9102"
}

// ParseTimeout converts the exchange timeout string to time.Duration
func (e ExchangeConfig) ParseTimeout() (time.Duration, error) {
	if e.Timeout == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(e.Timeout)
}

// ParseFillPoll converts the fill poll interval to time.Duration
func (e ExecutorConfig) ParseFillPoll() (time.Duration, error) {
	if e.FillPoll == "" {
		return 500 * time.Millisecond, nil
	}
	return time.ParseDuration(e.FillPoll)
}

// ParseFillTimeout converts the fill timeout to time.Duration
func (e ExecutorConfig) ParseFillTimeout() (time.Duration, error) {
	if e.FillTimeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(e.FillTimeout)
}

// ParseCycleBudget converts the cycle wall-clock budget to time.Duration
func (e EngineConfig) ParseCycleBudget() (time.Duration, error) {
	if e.CycleBudget == "" {
		return 5 * time.Minute, nil
	}
	return time.ParseDuration(e.CycleBudget)
}

// LoadFromFile loads configuration from a file (JSON or YAML based on extension)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if (len(path) > 5 && path[len(path)-5:] == ".yaml") || (len(path) > 4 && path[len(path)-4:] == ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	if c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger.db_path is required")
	}
	if c.Sizing.KellyCap <= 0 || c.Sizing.KellyCap > 1 {
		return fmt.Errorf("sizing.kelly_cap must be between 0 and 1")
	}
	if c.Sizing.MaxPositionPct <= 0 || c.Sizing.MaxPositionPct > 1 {
		return fmt.Errorf("sizing.max_position_pct must be between 0 and 1")
	}
	if c.Sizing.BasePositionPct <= 0 || c.Sizing.BasePositionPct > c.Sizing.MaxPositionPct {
		return fmt.Errorf("sizing.base_position_pct must be positive and at most max_position_pct")
	}
	if c.Stops.MinStopPct <= 0 || c.Stops.MaxStopPct <= c.Stops.MinStopPct {
		return fmt.Errorf("stops.min_stop_pct/max_stop_pct must satisfy 0 < min < max")
	}
	if c.Stops.ATRMultiplier <= 0 {
		return fmt.Errorf("stops.atr_multiplier must be positive")
	}
	if c.Exit.ATRStopMinPct <= 0 || c.Exit.ATRStopMaxPct <= c.Exit.ATRStopMinPct {
		return fmt.Errorf("exit.atr_stop_min_pct/atr_stop_max_pct must satisfy 0 < min < max")
	}
	if c.Exit.BigWinnerPct <= 0 {
		return fmt.Errorf("exit.big_winner_pct must be positive")
	}
	if len(c.Exit.HoldingTakeProfit) == 0 {
		return fmt.Errorf("exit.holding_take_profit must have at least one stage")
	}
	if c.Executor.TakerFeeRate < 0 || c.Executor.TakerFeeRate >= 1 {
		return fmt.Errorf("executor.taker_fee_rate must be in [0, 1)")
	}
	if c.Executor.MinBuyValue <= 0 || c.Executor.MinSellValue <= 0 {
		return fmt.Errorf("executor minimum order values must be positive")
	}
	switch c.Reconcile.SyncPolicy {
	case "ignore", "adopt", "alert":
	default:
		return fmt.Errorf("reconcile.sync_policy must be 'ignore', 'adopt' or 'alert'")
	}
	if c.Engine.MaxDailyTrades <= 0 {
		return fmt.Errorf("engine.max_daily_trades must be positive")
	}
	for _, field := range []struct {
		name string
		f    func() (time.Duration, error)
	}{
		{"exchange.timeout", c.Exchange.ParseTimeout},
		{"executor.fill_poll", c.Executor.ParseFillPoll},
		{"executor.fill_timeout", c.Executor.ParseFillTimeout},
		{"engine.cycle_budget", c.Engine.ParseCycleBudget},
	} {
		if _, err := field.f(); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			BaseURL:        "https://api.upbit.com",
			Timeout:        "10s",
			RequestsPerSec: 8,
			QuoteCurrency:  "KRW",
		},
		Ledger: LedgerConfig{
			DBPath: "./coinpilot.sqlite",
		},
		Sizing: SizingConfig{
			KellyCap:        0.30,
			MaxPositionPct:  0.20,
			BasePositionPct: 0.05,
			MinTrades:       10,
			MinWinRate:      0.30,
			MaxWinRate:      0.80,
		},
		Stops: StopsConfig{
			MinRisePct:     0.08,
			MinHoldingDays: 3,
			ATRMultiplier:  1.0,
			BaseStopPct:    0.08,
			MinStopPct:     0.05,
			MaxStopPct:     0.15,

			HighVolRatio:   0.05,
			MediumVolRatio: 0.03,
			HighVolFactor:  1.5,
			MedVolFactor:   2.0,
			LowVolFactor:   2.5,

			ShortHoldDays:   3,
			MidHoldDays:     7,
			ShortHoldFactor: 2.0,
			MidHoldFactor:   1.5,
			LongHoldFactor:  1.2,

			UptrendRSIMin:    60,
			UptrendRSIMax:    80,
			UptrendMA20Slope: 0.02,
			UptrendMinProfit: 0.10,
		},
		Exit: ExitConfig{
			FixedStopPct:  0.08,
			ATRStopMinPct: 0.03,
			ATRStopMaxPct: 0.12,
			KellyStop: KellyStopConfig{
				MinHoldingDays: 3,
				MinWinRate:     0.40,
				MinKelly:       0.05,
				MinPct:         0.05,
				MaxPct:         0.15,
				ATRMultiplier:  2.0,
			},

			GapGraceHours:    24,
			GapShortDays:     5,
			GapShortPct:      0.05,
			GapLongPct:       0.02,
			GapLoosePct:      0.025,
			GapLooseLossPct:  0.03,
			SupportBreakPct:  0.02,
			VolumeConfirm:    1.5,
			RSIOversold:      40,
			ADXStrong:        25,
			VolumeSpike:      2.0,
			SharpDropPct:     0.03,
			DistMinProfit:    0.30,
			DistNearHighPct:  0.05,
			DistVolumeShrink: 0.5,

			BigWinnerPct:       1.00,
			FixedTakeProfitPct: 0.50,
			HoldingTakeProfit: []TPStage{
				{MaxDays: 3, Pct: 0.15},
				{MaxDays: 7, Pct: 0.20},
				{MaxDays: 0, Pct: 0.12},
			},
			MarketTPMinProfit: 0.25,
			RSIOverbought:     70,
		},
		Executor: ExecutorConfig{
			TakerFeeRate:   0.00139,
			MinBuyValue:    10000,
			MinSellValue:   5000,
			InitialStopPct: 0.08,
			FillPoll:       "500ms",
			FillTimeout:    "30s",
		},
		Reconcile: ReconcileConfig{
			SyncPolicy: "alert",
			Tolerance:  1e-8,
		},
		Engine: EngineConfig{
			MaxDailyTrades: 10,
			MaxPositions:   8,
			CycleBudget:    "5m",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9102",
		},
	}
}
