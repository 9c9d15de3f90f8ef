package exit

import (
	"fmt"

	"github.com/jwlim/coinpilot/config"
)

// fixedStopLoss is the unconditional loss floor.
func fixedStopLoss(cfg config.ExitConfig, ec Context) (Signal, bool) {
	ret := ec.returnPct()
	if ret > -cfg.FixedStopPct {
		return Signal{}, false
	}
	return Signal{
		Exit:   true,
		Reason: fmt.Sprintf("loss %.1f%% beyond fixed stop %.1f%%", ret*100, cfg.FixedStopPct*100),
	}, true
}

// atrStopLoss scales the stop with entry volatility. The implied stop
// distance is ATR at entry times the volatility multiplier, kept inside
// the configured band.
func atrStopLoss(cfg config.ExitConfig, ec Context) (Signal, bool) {
	if ec.Pos.ATRAtEntry <= 0 || ec.Pos.EntryPrice <= 0 {
		return Signal{}, false
	}

	mult := volMultiplier(ec)
	pct := clamp(ec.Pos.ATRAtEntry/ec.Pos.EntryPrice*mult, cfg.ATRStopMinPct, cfg.ATRStopMaxPct)

	ret := ec.returnPct()
	if ret > -pct {
		return Signal{}, false
	}
	return Signal{
		Exit:   true,
		Reason: fmt.Sprintf("loss %.1f%% beyond ATR stop %.1f%%", ret*100, pct*100),
	}, true
}

// volMultiplier widens the ATR stop in calm markets and tightens it in
// volatile ones, mirroring the trailing-stop volatility tiers.
func volMultiplier(ec Context) float64 {
	ratio := ec.Pos.ATRAtEntry / ec.Pos.EntryPrice
	switch {
	case ratio > 0.05:
		return 1.5
	case ratio > 0.03:
		return 2.0
	default:
		return 2.5
	}
}

// kellyStopLoss protects accumulated profit with a drawdown stop from the
// high-water mark. It only arms once the position has seasoned and the
// ticker's edge is established; otherwise it abstains.
func kellyStopLoss(cfg config.ExitConfig, ec Context) (Signal, bool) {
	ks := cfg.KellyStop
	if ec.Pos.HoldingDays(ec.Now) < ks.MinHoldingDays {
		return Signal{}, false
	}
	if ec.WinRate < ks.MinWinRate || ec.Kelly < ks.MinKelly {
		return Signal{}, false
	}
	hwm := ec.Pos.HighWaterMark
	if hwm <= 0 || ec.Pos.EntryPrice <= 0 {
		return Signal{}, false
	}

	// Wider stop for a stronger edge: scale the ATR distance up with the
	// Kelly fraction, inside the configured band.
	base := ec.Pos.ATRAtEntry / ec.Pos.EntryPrice * ks.ATRMultiplier
	pct := clamp(base*(1+ec.Kelly), ks.MinPct, ks.MaxPct)

	stop := hwm * (1 - pct)
	if ec.Snap.Price > stop {
		return Signal{}, false
	}
	return Signal{
		Exit: true,
		Reason: fmt.Sprintf("drawdown from peak %.0f beyond kelly stop %.1f%% (kelly %.2f, win rate %.2f)",
			hwm, pct*100, ec.Kelly, ec.WinRate),
	}, true
}
