package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwlim/coinpilot/config"
	"github.com/jwlim/coinpilot/exchange"
	"github.com/jwlim/coinpilot/ledger"
)

func newTestExecutor(t *testing.T) (*Executor, *exchange.Paper, *ledger.SQLiteLedger) {
	t.Helper()

	book, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { book.Close() })

	paper := exchange.NewPaper("KRW", 10000000)

	cfg := config.Default().Executor
	cfg.FillPoll = "1ms"
	cfg.FillTimeout = "100ms"

	e, err := New(paper, book, cfg, zerolog.Nop())
	require.NoError(t, err)
	return e, paper, book
}

func TestBuyOpensPosition(t *testing.T) {
	t.Parallel()

	e, paper, book := newTestExecutor(t)
	paper.SetPrice("KRW-BTC", 50000000)

	res, err := e.Buy(context.Background(), "KRW-BTC", 100000, 1200000, "entry")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusSuccess, res.Trade.Status)
	assert.Equal(t, 100000.0, res.Trade.RequestedAmount)
	// The venue order is fee-adjusted, so the fill stays under the sized
	// amount.
	assert.Less(t, res.Trade.FilledAmount, res.Trade.RequestedAmount)
	assert.Greater(t, res.Trade.FilledAmount, 99000.0)

	require.NotNil(t, res.Position)
	assert.Equal(t, 50000000.0, res.Position.EntryPrice)
	assert.Equal(t, ledger.StopFixedFallback, res.Position.StopType)
	assert.Equal(t, 1200000.0, res.Position.ATRAtEntry)

	p, ok, err := book.GetPosition("KRW-BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, res.Position.Quantity, p.Quantity, 1e-12)
}

func TestBuyBelowMinimumNeverReachesVenue(t *testing.T) {
	t.Parallel()

	e, paper, _ := newTestExecutor(t)
	paper.SetPrice("KRW-BTC", 50000000)
	before := paper.Cash()

	_, err := e.Buy(context.Background(), "KRW-BTC", 9000, 0, "entry")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBelowMinimumOrder))
	assert.Equal(t, before, paper.Cash())
}

func TestBuyZeroFillOpensNoPosition(t *testing.T) {
	t.Parallel()

	e, paper, book := newTestExecutor(t)
	paper.SetPrice("KRW-BTC", 50000000)
	paper.FillRatio = 0

	res, err := e.Buy(context.Background(), "KRW-BTC", 100000, 0, "entry")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusNoFill, res.Trade.Status)
	assert.Zero(t, res.Trade.FilledAmount)
	assert.Nil(t, res.Position)

	_, ok, err := book.GetPosition("KRW-BTC")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSellRequestedAmountIsEstimatedValue(t *testing.T) {
	t.Parallel()

	e, paper, book := newTestExecutor(t)
	paper.SetPrice("KRW-XRP", 1028)
	paper.SetHolding("KRW-XRP", 17.84573476)
	require.NoError(t, book.CommitBuy(ledger.TradeRecord{
		TradeID: "01SEED", Ticker: "KRW-XRP", Side: ledger.Buy,
		Status: ledger.StatusSuccess, RequestedAmount: 18000,
		FilledAmount: 17900, Price: 1003, Reason: "entry",
	}, ledger.Position{
		Ticker: "KRW-XRP", EntryPrice: 1003, Quantity: 17.84573476,
		StopType: ledger.StopFixedFallback,
	}))

	res, err := e.Sell(context.Background(), "KRW-XRP", 17.84573476, "trailing_stop")
	require.NoError(t, err)

	// 17.84573476 * 1028 = 18345.4153..., rounded to 18345.42. A sell's
	// requested amount is the estimated value, never zero.
	assert.InDelta(t, 18345.42, res.Trade.RequestedAmount, 1e-9)
	assert.NotZero(t, res.Trade.RequestedAmount)
	assert.Equal(t, ledger.StatusSuccess, res.Trade.Status)
	assert.Nil(t, res.Position)

	_, ok, err := book.GetPosition("KRW-XRP")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSellBelowMinimumNet(t *testing.T) {
	t.Parallel()

	e, paper, _ := newTestExecutor(t)
	paper.SetPrice("KRW-DOGE", 100)
	paper.SetHolding("KRW-DOGE", 50)

	// 50 * 100 = 5000 gross, but the fee drags net under the 5000 floor.
	_, err := e.Sell(context.Background(), "KRW-DOGE", 50, "stop")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBelowMinimumOrder))
}

func TestSellPartialKeepsRemainder(t *testing.T) {
	t.Parallel()

	e, paper, book := newTestExecutor(t)
	paper.SetPrice("KRW-ETH", 3000000)
	paper.SetHolding("KRW-ETH", 0.1)
	paper.FillRatio = 0.5
	require.NoError(t, book.CommitBuy(ledger.TradeRecord{
		TradeID: "01SEED2", Ticker: "KRW-ETH", Side: ledger.Buy,
		Status: ledger.StatusSuccess, RequestedAmount: 300000,
		FilledAmount: 299583, Price: 2995830, Reason: "entry",
	}, ledger.Position{
		Ticker: "KRW-ETH", EntryPrice: 2995830, Quantity: 0.1,
		StopType: ledger.StopFixedFallback,
	}))

	res, err := e.Sell(context.Background(), "KRW-ETH", 0.1, "take_profit")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartial, res.Trade.Status)
	require.NotNil(t, res.Position)
	assert.InDelta(t, 0.05, res.Position.Quantity, 1e-9)

	p, ok, err := book.GetPosition("KRW-ETH")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.05, p.Quantity, 1e-9)
}

func TestSellRecordsRealizedReturn(t *testing.T) {
	t.Parallel()

	e, paper, book := newTestExecutor(t)
	paper.SetPrice("KRW-SOL", 220000)
	paper.SetHolding("KRW-SOL", 1)
	require.NoError(t, book.CommitBuy(ledger.TradeRecord{
		TradeID: "01SEED3", Ticker: "KRW-SOL", Side: ledger.Buy,
		Status: ledger.StatusSuccess, RequestedAmount: 200000,
		FilledAmount: 199722, Price: 200000, Reason: "entry",
	}, ledger.Position{
		Ticker: "KRW-SOL", EntryPrice: 200000, Quantity: 1,
		StopType: ledger.StopFixedFallback,
	}))

	res, err := e.Sell(context.Background(), "KRW-SOL", 1, "take_profit")
	require.NoError(t, err)
	assert.InDelta(t, 0.10, res.Trade.PnLPct, 1e-9)

	outcomes, err := book.Outcomes("KRW-SOL")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.InDelta(t, 0.10, outcomes[0], 1e-9)
}

func TestBuyVenueRejectionRecordsAPIError(t *testing.T) {
	t.Parallel()

	e, paper, book := newTestExecutor(t)
	paper.SetPrice("KRW-BTC", 50000000)

	// Spend more than the paper account holds.
	_, err := e.Buy(context.Background(), "KRW-BTC", 50000000, 0, "entry")
	require.Error(t, err)

	var apiErr *exchange.APIError
	assert.True(t, errors.As(err, &apiErr))

	n, err := book.TradesToday(time.Now())
	require.NoError(t, err)
	assert.Zero(t, n) // api_error rows are not fills
}
