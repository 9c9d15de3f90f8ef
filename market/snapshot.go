package market

import "time"

// Snapshot is the per-ticker market view the lifecycle manager consumes.
// Indicator values arrive materialized from the data pipeline; nothing in
// this module computes them.
type Snapshot struct {
	Ticker string    `json:"ticker" yaml:"ticker"`
	Time   time.Time `json:"time,omitempty" yaml:"time,omitempty"`

	Price        float64 `json:"price" yaml:"price"`
	TodayLow     float64 `json:"today_low,omitempty" yaml:"today_low,omitempty"`
	PrevHigh     float64 `json:"prev_high,omitempty" yaml:"prev_high,omitempty"`
	DayChangePct float64 `json:"day_change_pct,omitempty" yaml:"day_change_pct,omitempty"`

	ATR         float64 `json:"atr,omitempty" yaml:"atr,omitempty"`
	RSI         float64 `json:"rsi,omitempty" yaml:"rsi,omitempty"`
	ADX         float64 `json:"adx,omitempty" yaml:"adx,omitempty"`
	MACD        float64 `json:"macd,omitempty" yaml:"macd,omitempty"`
	MACDSignal  float64 `json:"macd_signal,omitempty" yaml:"macd_signal,omitempty"`
	MA20        float64 `json:"ma20,omitempty" yaml:"ma20,omitempty"`
	MA20Slope   float64 `json:"ma20_slope,omitempty" yaml:"ma20_slope,omitempty"`
	MA200       float64 `json:"ma200,omitempty" yaml:"ma200,omitempty"`
	BBLower     float64 `json:"bb_lower,omitempty" yaml:"bb_lower,omitempty"`
	VolumeRatio float64 `json:"volume_ratio,omitempty" yaml:"volume_ratio,omitempty"`
}

// ATRRatio is ATR relative to price, the volatility measure used for
// stop scaling.
func (s Snapshot) ATRRatio() float64 {
	if s.Price <= 0 {
		return 0
	}
	return s.ATR / s.Price
}

// GapDownPct measures today's low against yesterday's high. Positive
// values mean price gapped below the prior day's range.
func (s Snapshot) GapDownPct() float64 {
	if s.PrevHigh <= 0 || s.TodayLow <= 0 {
		return 0
	}
	return (s.PrevHigh - s.TodayLow) / s.PrevHigh
}
