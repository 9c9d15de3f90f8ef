package exit

import (
	"fmt"

	"github.com/jwlim/coinpilot/config"
)

// fixedTakeProfit locks in gains past the flat threshold.
func fixedTakeProfit(cfg config.ExitConfig, ec Context) (Signal, bool) {
	ret := ec.returnPct()
	if ret < cfg.FixedTakeProfitPct {
		return Signal{}, false
	}
	return Signal{
		Exit:   true,
		Reason: fmt.Sprintf("take profit %.1f%% >= %.1f%%", ret*100, cfg.FixedTakeProfitPct*100),
	}, true
}

// holdingTakeProfit applies the staged thresholds; the first stage whose
// window covers the holding period decides.
func holdingTakeProfit(cfg config.ExitConfig, ec Context) (Signal, bool) {
	days := ec.Pos.HoldingDays(ec.Now)

	var threshold float64
	found := false
	for _, stage := range cfg.HoldingTakeProfit {
		if stage.MaxDays == 0 || days <= stage.MaxDays {
			threshold = stage.Pct
			found = true
			break
		}
	}
	if !found {
		return Signal{}, false
	}

	ret := ec.returnPct()
	if ret < threshold {
		return Signal{}, false
	}
	return Signal{
		Exit: true,
		Reason: fmt.Sprintf("take profit %.1f%% >= %.1f%% at %d days",
			ret*100, threshold*100, days),
	}, true
}

// marketTakeProfit sells a solid winner only when the market starts to
// confirm weakness; profit alone is not enough.
func marketTakeProfit(cfg config.ExitConfig, ec Context) (Signal, bool) {
	ret := ec.returnPct()
	if ret < cfg.MarketTPMinProfit {
		return Signal{}, false
	}

	bearish := ""
	switch {
	case ec.Snap.MA20 > 0 && ec.Snap.Price < ec.Snap.MA20:
		bearish = "below MA20"
	case ec.Snap.RSI > cfg.RSIOverbought:
		bearish = "overbought RSI"
	case ec.Snap.MACDSignal != 0 && ec.Snap.MACD < ec.Snap.MACDSignal:
		bearish = "macd dead cross"
	}
	if bearish == "" {
		return Signal{}, false
	}
	return Signal{
		Exit:   true,
		Reason: fmt.Sprintf("profit %.1f%% with %s", ret*100, bearish),
	}, true
}
