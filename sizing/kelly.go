package sizing

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jwlim/coinpilot/config"
	"github.com/jwlim/coinpilot/market"
)

// ErrInsufficientCapital means the computed size fell below the exchange
// minimum order and no order should be attempted.
var ErrInsufficientCapital = errors.New("insufficient capital for minimum order")

// History summarizes a ticker's closed trades for Kelly sizing.
type History struct {
	Trades  int
	WinRate float64
	AvgWin  float64 // mean winning return, fraction
	AvgLoss float64 // mean losing return magnitude, fraction
}

// FromOutcomes builds a History from realized returns, oldest first.
func FromOutcomes(outcomes []float64) History {
	h := History{Trades: len(outcomes)}
	if h.Trades == 0 {
		return h
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, r := range outcomes {
		if r > 0 {
			wins++
			winSum += r
		} else if r < 0 {
			losses++
			lossSum += -r
		}
	}

	h.WinRate = float64(wins) / float64(h.Trades)
	if wins > 0 {
		h.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		h.AvgLoss = lossSum / float64(losses)
	}
	return h
}

// Kelly returns the raw Kelly fraction for a history, before capping.
// With payoff b = avgWin/avgLoss: f = p - (1-p)/b.
func Kelly(h History) float64 {
	if h.AvgLoss <= 0 || h.AvgWin <= 0 {
		return 0
	}
	payoff := h.AvgWin / h.AvgLoss
	return h.WinRate - (1-h.WinRate)/payoff
}

type Sizer struct {
	cfg      config.SizingConfig
	minOrder float64
	log      zerolog.Logger
}

func New(cfg config.SizingConfig, minOrder float64, log zerolog.Logger) *Sizer {
	return &Sizer{cfg: cfg, minOrder: minOrder, log: log.With().Str("component", "sizer").Logger()}
}

// Size returns the quote-currency amount to deploy for ticker given total
// capital and the ticker's trade history.
//
// With enough history the Kelly fraction (capped, never negative) drives
// the size, bounded by the max single-position fraction. Thin history
// falls back to the base fraction. A result below the exchange minimum is
// an ErrInsufficientCapital.
func (s *Sizer) Size(ticker string, capital float64, hist History) (float64, error) {
	if capital <= 0 {
		return 0, fmt.Errorf("size %s: capital %.2f: %w", ticker, capital, ErrInsufficientCapital)
	}

	var size float64
	if hist.Trades < s.cfg.MinTrades {
		size = s.cfg.BasePositionPct * capital
		s.log.Debug().Str("ticker", ticker).Int("trades", hist.Trades).
			Float64("size", size).Msg("thin history, base position size")
	} else {
		kelly := clamp(Kelly(hist), 0, s.cfg.KellyCap)
		size = kelly * capital
		if max := s.cfg.MaxPositionPct * capital; size > max {
			size = max
		}
		s.log.Debug().Str("ticker", ticker).Float64("kelly", kelly).
			Float64("size", size).Msg("kelly position size")
	}

	if size < s.minOrder {
		return 0, fmt.Errorf("size %s: %.2f below exchange minimum %.2f: %w",
			ticker, size, s.minOrder, ErrInsufficientCapital)
	}
	return size, nil
}

// EstimateWinRate derives a win-rate proxy from the indicator snapshot for
// tickers without enough closed trades. Clamped to the configured band.
func (s *Sizer) EstimateWinRate(snap market.Snapshot) float64 {
	rate := 0.5

	switch {
	case snap.RSI > 0 && snap.RSI < 30:
		rate += 0.10
	case snap.RSI >= 40 && snap.RSI <= 60:
		rate += 0.05
	case snap.RSI > 70:
		rate -= 0.10
	}

	if snap.MACD > snap.MACDSignal {
		rate += 0.05
		if snap.ADX > 25 {
			rate += 0.10
		}
	} else if snap.MACD < snap.MACDSignal {
		rate -= 0.05
	}

	if snap.BBLower > 0 && snap.Price < snap.BBLower {
		rate += 0.05
	}

	return clamp(rate, s.cfg.MinWinRate, s.cfg.MaxWinRate)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
