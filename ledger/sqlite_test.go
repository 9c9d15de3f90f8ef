package ledger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	l, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func buyTrade(ticker string, requested, filled float64) TradeRecord {
	return TradeRecord{
		TradeID:         "01TEST" + ticker,
		Ticker:          ticker,
		Side:            Buy,
		Status:          StatusSuccess,
		RequestedAmount: requested,
		FilledAmount:    filled,
		Price:           100,
		Reason:          "entry",
		CreatedAt:       time.Now().UTC(),
	}
}

func TestCommitBuyPersistsTradeAndPosition(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	entry := time.Now().UTC()

	err := l.CommitBuy(buyTrade("KRW-BTC", 100000, 99861), Position{
		Ticker:        "KRW-BTC",
		EntryPrice:    50000000,
		Quantity:      0.002,
		EntryTime:     entry,
		StopPrice:     46000000,
		StopPct:       0.08,
		StopType:      StopFixedFallback,
		ATRAtEntry:    1200000,
		HighWaterMark: 50000000,
	})
	require.NoError(t, err)

	p, ok, err := l.GetPosition("KRW-BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 50000000.0, p.EntryPrice)
	assert.Equal(t, StopFixedFallback, p.StopType)
	assert.InDelta(t, 0.002, p.Quantity, 1e-12)
}

func TestCommitBuyRollsBackOnOverfill(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)

	// Filled beyond requested*1.01 violates the trades CHECK. Neither the
	// trade nor the position may survive.
	tr := buyTrade("KRW-ETH", 100000, 102000)
	err := l.CommitBuy(tr, Position{
		Ticker:     "KRW-ETH",
		EntryPrice: 3000000,
		Quantity:   0.034,
		EntryTime:  time.Now().UTC(),
		StopType:   StopFixedFallback,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConsistency))

	_, ok, err := l.GetPosition("KRW-ETH")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitSellClosesPosition(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	require.NoError(t, l.CommitBuy(buyTrade("KRW-XRP", 50000, 49931), Position{
		Ticker:     "KRW-XRP",
		EntryPrice: 1000,
		Quantity:   49.93,
		EntryTime:  time.Now().UTC().Add(-48 * time.Hour),
		StopType:   StopFixedFallback,
	}))

	sell := TradeRecord{
		TradeID:         "01TESTSELL",
		Ticker:          "KRW-XRP",
		Side:            Sell,
		Status:          StatusSuccess,
		RequestedAmount: 51328.04,
		FilledAmount:    51256.70,
		Price:           1028,
		PnLPct:          0.028,
		Reason:          "trailing_stop",
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, l.CommitSell(sell, nil))

	_, ok, err := l.GetPosition("KRW-XRP")
	require.NoError(t, err)
	assert.False(t, ok)

	outcomes, err := l.Outcomes("KRW-XRP")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.InDelta(t, 0.028, outcomes[0], 1e-12)
}

func TestCommitSellKeepsRemainder(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	pos := Position{
		Ticker:     "KRW-SOL",
		EntryPrice: 200000,
		Quantity:   1.0,
		EntryTime:  time.Now().UTC(),
		StopType:   StopFixedFallback,
	}
	require.NoError(t, l.CommitBuy(buyTrade("KRW-SOL", 200000, 199722), pos))

	remaining := pos
	remaining.Quantity = 0.4
	sell := TradeRecord{
		TradeID:         "01TESTPARTIAL",
		Ticker:          "KRW-SOL",
		Side:            Sell,
		Status:          StatusPartial,
		RequestedAmount: 120000,
		FilledAmount:    119800,
		Price:           200000,
		Reason:          "take_profit",
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, l.CommitSell(sell, &remaining))

	p, ok, err := l.GetPosition("KRW-SOL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.4, p.Quantity, 1e-12)
}

func TestUpdateStop(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	require.NoError(t, l.CommitBuy(buyTrade("KRW-ADA", 30000, 29958), Position{
		Ticker:        "KRW-ADA",
		EntryPrice:    500,
		Quantity:      60,
		EntryTime:     time.Now().UTC(),
		StopPrice:     460,
		StopPct:       0.08,
		StopType:      StopFixedFallback,
		HighWaterMark: 500,
	}))

	require.NoError(t, l.UpdateStop("KRW-ADA", 540, 0.05, StopClampedMin, 570))

	p, _, err := l.GetPosition("KRW-ADA")
	require.NoError(t, err)
	assert.Equal(t, 540.0, p.StopPrice)
	assert.Equal(t, StopClampedMin, p.StopType)
	assert.Equal(t, 570.0, p.HighWaterMark)

	err = l.UpdateStop("KRW-NONE", 1, 0.05, StopATRTrailing, 2)
	assert.Error(t, err)
}

func TestExpectedHoldings(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	for i, ticker := range []string{"KRW-BTC", "KRW-ETH"} {
		tr := buyTrade(ticker, 10000, 9986)
		tr.TradeID = tr.TradeID + "-h"
		require.NoError(t, l.CommitBuy(tr, Position{
			Ticker:     ticker,
			EntryPrice: 1000,
			Quantity:   float64(i + 1),
			EntryTime:  time.Now().UTC(),
			StopType:   StopFixedFallback,
		}))
	}

	holdings, err := l.ExpectedHoldings()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"KRW-BTC": 1, "KRW-ETH": 2}, holdings)
}

func TestTradesTodayCountsOnlyFills(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	now := time.Now()

	filled := buyTrade("KRW-BTC", 10000, 9986)
	filled.CreatedAt = now
	require.NoError(t, l.RecordTrade(filled))

	noFill := buyTrade("KRW-ETH", 10000, 0)
	noFill.Status = StatusNoFill
	noFill.Price = 0
	noFill.CreatedAt = now
	require.NoError(t, l.RecordTrade(noFill))

	yesterday := buyTrade("KRW-XRP", 10000, 9986)
	yesterday.CreatedAt = now.Add(-26 * time.Hour)
	require.NoError(t, l.RecordTrade(yesterday))

	n, err := l.TradesToday(now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReopenKeepsRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	l, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, l.RecordTrade(buyTrade("KRW-BTC", 10000, 9986)))
	require.NoError(t, l.Close())

	l2, err := NewSQLite(path)
	require.NoError(t, err)
	defer l2.Close()

	n, err := l2.TradesToday(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
