package exit

import (
	"fmt"

	"github.com/jwlim/coinpilot/config"
)

// gapDown exits when price opens below the prior day's range. Fresh
// positions get a grace period so an entry-day wick cannot shake them out,
// and older positions are held to a tighter gap threshold.
func gapDown(cfg config.ExitConfig, ec Context) (Signal, bool) {
	gap := ec.Snap.GapDownPct()
	if gap <= 0 {
		return Signal{}, false
	}
	if ec.Pos.HoldingHours(ec.Now) < float64(cfg.GapGraceHours) {
		return Signal{}, false
	}

	threshold := cfg.GapLongPct
	if ec.Pos.HoldingDays(ec.Now) < cfg.GapShortDays {
		threshold = cfg.GapShortPct
	}

	if gap >= threshold {
		return Signal{
			Exit:   true,
			Reason: fmt.Sprintf("gap down %.1f%% >= %.1f%%", gap*100, threshold*100),
		}, true
	}

	// Looser gap still exits when the position is already losing.
	if gap >= cfg.GapLoosePct && ec.returnPct() <= -cfg.GapLooseLossPct {
		return Signal{
			Exit: true,
			Reason: fmt.Sprintf("gap down %.1f%% with loss %.1f%%",
				gap*100, ec.returnPct()*100),
		}, true
	}

	return Signal{}, false
}

// supportBreak exits on a close below MA20 support confirmed by volume.
func supportBreak(cfg config.ExitConfig, ec Context) (Signal, bool) {
	if ec.Snap.MA20 <= 0 {
		return Signal{}, false
	}
	support := ec.Snap.MA20 * (1 - cfg.SupportBreakPct)
	if ec.Snap.Price >= support {
		return Signal{}, false
	}
	if ec.Snap.VolumeRatio < cfg.VolumeConfirm {
		return Signal{}, false
	}
	return Signal{
		Exit: true,
		Reason: fmt.Sprintf("break below MA20 support %.0f on %.1fx volume",
			support, ec.Snap.VolumeRatio),
	}, true
}

// bearishVote exits when at least two independent bearish pairings agree.
func bearishVote(cfg config.ExitConfig, ec Context) (Signal, bool) {
	votes := 0
	var reasons []string

	// Oversold momentum with a dead cross.
	if ec.Snap.RSI > 0 && ec.Snap.RSI < cfg.RSIOversold && ec.Snap.MACD < ec.Snap.MACDSignal {
		votes++
		reasons = append(reasons, "rsi+macd")
	}

	// Strong downtrend while the position bleeds.
	if ec.Snap.ADX > cfg.ADXStrong && ec.Snap.Price < ec.Snap.MA20 && ec.returnPct() < 0 {
		votes++
		reasons = append(reasons, "downtrend+loss")
	}

	// Heavy volume into a sharp drop.
	if ec.Snap.VolumeRatio >= cfg.VolumeSpike && ec.Snap.DayChangePct <= -cfg.SharpDropPct {
		votes++
		reasons = append(reasons, "volume+drop")
	}

	if votes < 2 {
		return Signal{}, false
	}
	return Signal{
		Exit:   true,
		Reason: fmt.Sprintf("bearish vote %d/3: %v", votes, reasons),
	}, true
}

// distributionPhase exits an extended winner that stalls near its highs
// with a volume pattern change, the classic top formation.
func distributionPhase(cfg config.ExitConfig, ec Context) (Signal, bool) {
	if ec.returnPct() < cfg.DistMinProfit {
		return Signal{}, false
	}
	if ec.Snap.MA200 <= 0 || ec.Snap.Price <= ec.Snap.MA200 {
		return Signal{}, false
	}
	hwm := ec.Pos.HighWaterMark
	if hwm <= 0 || ec.Snap.Price < hwm*(1-cfg.DistNearHighPct) {
		return Signal{}, false
	}
	if ec.Snap.VolumeRatio == 0 {
		return Signal{}, false
	}
	// Volume drying up or churning, either way the pattern broke.
	if ec.Snap.VolumeRatio > cfg.DistVolumeShrink && ec.Snap.VolumeRatio < cfg.VolumeSpike {
		return Signal{}, false
	}
	return Signal{
		Exit: true,
		Reason: fmt.Sprintf("distribution near highs: %.1f%% up on %.1fx volume",
			ec.returnPct()*100, ec.Snap.VolumeRatio),
	}, true
}
