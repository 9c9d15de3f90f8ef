package sizing

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwlim/coinpilot/config"
	"github.com/jwlim/coinpilot/market"
)

func testSizer(t *testing.T) *Sizer {
	t.Helper()
	return New(config.Default().Sizing, 10000, zerolog.Nop())
}

func TestKellyFormula(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		hist History
		want float64
	}{
		{
			name: "even payoff favorable",
			hist: History{WinRate: 0.6, AvgWin: 0.10, AvgLoss: 0.10},
			want: 0.20, // 0.6 - 0.4/1.0
		},
		{
			name: "high payoff",
			hist: History{WinRate: 0.5, AvgWin: 0.20, AvgLoss: 0.10},
			want: 0.25, // 0.5 - 0.5/2.0
		},
		{
			name: "unfavorable goes negative",
			hist: History{WinRate: 0.3, AvgWin: 0.10, AvgLoss: 0.10},
			want: -0.40,
		},
		{
			name: "no losses yet",
			hist: History{WinRate: 1.0, AvgWin: 0.10, AvgLoss: 0},
			want: 0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, Kelly(tt.hist), 1e-9)
		})
	}
}

func TestFromOutcomes(t *testing.T) {
	t.Parallel()

	h := FromOutcomes([]float64{0.10, -0.05, 0.20, -0.15, 0.06})
	assert.Equal(t, 5, h.Trades)
	assert.InDelta(t, 0.6, h.WinRate, 1e-9)
	assert.InDelta(t, 0.12, h.AvgWin, 1e-9)
	assert.InDelta(t, 0.10, h.AvgLoss, 1e-9)
}

func TestSizeUsesKellyWhenHistorySufficient(t *testing.T) {
	t.Parallel()

	s := testSizer(t)
	hist := History{Trades: 20, WinRate: 0.6, AvgWin: 0.10, AvgLoss: 0.10}

	// kelly 0.20, capital 1,000,000 -> 200,000, equals max position cap
	size, err := s.Size("KRW-BTC", 1000000, hist)
	require.NoError(t, err)
	assert.InDelta(t, 200000, size, 1e-6)
}

func TestSizeCapsAtMaxPosition(t *testing.T) {
	t.Parallel()

	s := testSizer(t)
	// kelly 0.25 exceeds max position 0.20
	hist := History{Trades: 20, WinRate: 0.5, AvgWin: 0.20, AvgLoss: 0.10}

	size, err := s.Size("KRW-BTC", 1000000, hist)
	require.NoError(t, err)
	assert.InDelta(t, 200000, size, 1e-6)
}

func TestSizeNegativeKellyClampsToZero(t *testing.T) {
	t.Parallel()

	s := testSizer(t)
	hist := History{Trades: 20, WinRate: 0.3, AvgWin: 0.10, AvgLoss: 0.10}

	_, err := s.Size("KRW-BTC", 1000000, hist)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientCapital))
}

func TestSizeThinHistoryUsesBaseFraction(t *testing.T) {
	t.Parallel()

	s := testSizer(t)
	hist := History{Trades: 3, WinRate: 1.0, AvgWin: 0.5, AvgLoss: 0.01}

	size, err := s.Size("KRW-BTC", 1000000, hist)
	require.NoError(t, err)
	assert.InDelta(t, 50000, size, 1e-6)
}

func TestSizeBelowExchangeMinimum(t *testing.T) {
	t.Parallel()

	s := testSizer(t)
	_, err := s.Size("KRW-BTC", 100000, History{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientCapital))
	assert.Contains(t, err.Error(), "KRW-BTC")
}

func TestEstimateWinRateClamped(t *testing.T) {
	t.Parallel()

	s := testSizer(t)

	bullish := market.Snapshot{Ticker: "KRW-BTC", Price: 90, RSI: 25, ADX: 30, MACD: 2, MACDSignal: 1, BBLower: 100}
	bearish := market.Snapshot{Ticker: "KRW-BTC", Price: 100, RSI: 80, MACD: -2, MACDSignal: -1}

	hi := s.EstimateWinRate(bullish)
	lo := s.EstimateWinRate(bearish)

	assert.LessOrEqual(t, hi, 0.80)
	assert.GreaterOrEqual(t, lo, 0.30)
	assert.Greater(t, hi, lo)
}
