package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jwlim/coinpilot/config"
	"github.com/jwlim/coinpilot/exchange"
	"github.com/jwlim/coinpilot/ledger"
	"github.com/jwlim/coinpilot/metrics"
	"github.com/jwlim/coinpilot/pkg/id"
)

var (
	// ErrBelowMinimumOrder means the order value would not clear the
	// venue's minimum and nothing was sent.
	ErrBelowMinimumOrder = errors.New("order below venue minimum")

	// ErrFillTimeout means the order did not reach a terminal state
	// within the configured window and nothing executed.
	ErrFillTimeout = errors.New("order fill timed out")
)

// Result reports one executed order: the ledger row written and the
// position after the trade, nil when no position remains (or none was
// opened).
type Result struct {
	Trade    ledger.TradeRecord
	Position *ledger.Position
}

// Executor places orders and keeps the ledger consistent with them.
// Operations on the same ticker are serialized; different tickers proceed
// in parallel.
type Executor struct {
	ex   exchange.Exchange
	book ledger.Ledger
	cfg  config.ExecutorConfig
	log  zerolog.Logger

	poll    time.Duration
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(ex exchange.Exchange, book ledger.Ledger, cfg config.ExecutorConfig, log zerolog.Logger) (*Executor, error) {
	poll, err := cfg.ParseFillPoll()
	if err != nil {
		return nil, fmt.Errorf("fill poll: %w", err)
	}
	timeout, err := cfg.ParseFillTimeout()
	if err != nil {
		return nil, fmt.Errorf("fill timeout: %w", err)
	}

	return &Executor{
		ex:      ex,
		book:    book,
		cfg:     cfg,
		log:     log.With().Str("component", "executor").Logger(),
		poll:    poll,
		timeout: timeout,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// lock returns the per-ticker mutex, creating it on first use.
func (e *Executor) lock(ticker string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[ticker]
	if !ok {
		l = &sync.Mutex{}
		e.locks[ticker] = l
	}
	return l
}

// Buy spends sizedAmount of quote currency on ticker at market. The sized
// amount is recorded as the requested amount; the venue order itself is
// fee-adjusted so fees cannot push the spend past the sizing decision.
func (e *Executor) Buy(ctx context.Context, ticker string, sizedAmount, atr float64, reason string) (Result, error) {
	l := e.lock(ticker)
	l.Lock()
	defer l.Unlock()

	if sizedAmount < e.cfg.MinBuyValue {
		return Result{}, fmt.Errorf("buy %s: %.2f < %.2f: %w",
			ticker, sizedAmount, e.cfg.MinBuyValue, ErrBelowMinimumOrder)
	}

	orderAmount, _ := decimal.NewFromFloat(sizedAmount).
		Div(decimal.NewFromFloat(1 + e.cfg.TakerFeeRate)).
		RoundDown(2).Float64()

	orderID, err := e.ex.BuyMarket(ctx, ticker, orderAmount)
	if err != nil {
		e.recordFailure(ticker, ledger.Buy, sizedAmount, reason, err)
		return Result{}, fmt.Errorf("buy %s: %w", ticker, err)
	}

	order, err := e.waitFill(ctx, orderID)
	if err != nil && order.ExecutedVolume == 0 {
		e.recordFailure(ticker, ledger.Buy, sizedAmount, reason, err)
		return Result{}, fmt.Errorf("buy %s: %w", ticker, err)
	}

	now := time.Now().UTC()
	avgPrice := order.AvgPrice()
	filledValue, _ := decimal.NewFromFloat(order.FilledValue()).Round(2).Float64()

	trade := ledger.TradeRecord{
		TradeID:         id.New(),
		Ticker:          ticker,
		Side:            ledger.Buy,
		RequestedAmount: sizedAmount,
		FilledAmount:    filledValue,
		Price:           avgPrice,
		Reason:          reason,
		CreatedAt:       now,
	}

	if order.ExecutedVolume == 0 {
		trade.Status = ledger.StatusNoFill
		if err := e.book.RecordTrade(trade); err != nil {
			return Result{}, fmt.Errorf("buy %s: record no-fill: %w", ticker, err)
		}
		metrics.OrdersTotal.WithLabelValues("buy", string(trade.Status)).Inc()
		e.log.Warn().Str("ticker", ticker).Str("order_id", orderID).
			Msg("buy order did not fill, no position opened")
		return Result{Trade: trade}, nil
	}

	trade.Status = ledger.StatusSuccess
	if order.State != exchange.OrderDone || filledValue < orderAmount*0.999 {
		trade.Status = ledger.StatusPartial
	}

	pos := ledger.Position{
		Ticker:        ticker,
		EntryPrice:    avgPrice,
		Quantity:      order.ExecutedVolume,
		EntryTime:     now,
		StopPrice:     avgPrice * (1 - e.cfg.InitialStopPct),
		StopPct:       e.cfg.InitialStopPct,
		StopType:      ledger.StopFixedFallback,
		ATRAtEntry:    atr,
		HighWaterMark: avgPrice,
	}

	if err := e.book.CommitBuy(trade, pos); err != nil {
		e.recordFailure(ticker, ledger.Buy, sizedAmount, reason, err)
		return Result{}, fmt.Errorf("buy %s: commit: %w", ticker, err)
	}

	metrics.OrdersTotal.WithLabelValues("buy", string(trade.Status)).Inc()
	e.log.Info().Str("ticker", ticker).Str("trade_id", trade.TradeID).
		Float64("requested", sizedAmount).Float64("filled", filledValue).
		Float64("price", avgPrice).Str("status", string(trade.Status)).
		Msg("buy executed")

	return Result{Trade: trade, Position: &pos}, nil
}

// Sell liquidates quantity of ticker at market. The requested amount is
// always the estimated value quantity*price at decision time, never zero,
// so requested-vs-filled analysis stays meaningful on sells.
func (e *Executor) Sell(ctx context.Context, ticker string, quantity float64, reason string) (Result, error) {
	l := e.lock(ticker)
	l.Lock()
	defer l.Unlock()

	price, err := e.ex.CurrentPrice(ctx, ticker)
	if err != nil {
		return Result{}, fmt.Errorf("sell %s: price: %w", ticker, err)
	}

	estimated := decimal.NewFromFloat(quantity).
		Mul(decimal.NewFromFloat(price)).
		Round(2)
	requested, _ := estimated.Float64()

	net := estimated.Mul(decimal.NewFromFloat(1 - e.cfg.TakerFeeRate))
	if net.LessThan(decimal.NewFromFloat(e.cfg.MinSellValue)) {
		netF, _ := net.Float64()
		return Result{}, fmt.Errorf("sell %s: net %.2f < %.2f: %w",
			ticker, netF, e.cfg.MinSellValue, ErrBelowMinimumOrder)
	}

	orderID, err := e.ex.SellMarket(ctx, ticker, quantity)
	if err != nil {
		e.recordFailure(ticker, ledger.Sell, requested, reason, err)
		return Result{}, fmt.Errorf("sell %s: %w", ticker, err)
	}

	order, err := e.waitFill(ctx, orderID)
	if err != nil && order.ExecutedVolume == 0 {
		e.recordFailure(ticker, ledger.Sell, requested, reason, err)
		return Result{}, fmt.Errorf("sell %s: %w", ticker, err)
	}

	now := time.Now().UTC()
	filledValue, _ := decimal.NewFromFloat(order.FilledValue()).Round(2).Float64()

	trade := ledger.TradeRecord{
		TradeID:         id.New(),
		Ticker:          ticker,
		Side:            ledger.Sell,
		RequestedAmount: requested,
		FilledAmount:    filledValue,
		Price:           order.AvgPrice(),
		Reason:          reason,
		CreatedAt:       now,
	}

	pos, havePos, err := e.book.GetPosition(ticker)
	if err != nil {
		return Result{}, fmt.Errorf("sell %s: position: %w", ticker, err)
	}
	if havePos {
		trade.PnLPct = pos.ReturnPct(order.AvgPrice())
	}

	if order.ExecutedVolume == 0 {
		trade.Status = ledger.StatusNoFill
		trade.PnLPct = 0
		if err := e.book.RecordTrade(trade); err != nil {
			return Result{}, fmt.Errorf("sell %s: record no-fill: %w", ticker, err)
		}
		metrics.OrdersTotal.WithLabelValues("sell", string(trade.Status)).Inc()
		var remaining *ledger.Position
		if havePos {
			remaining = &pos
		}
		return Result{Trade: trade, Position: remaining}, nil
	}

	trade.Status = ledger.StatusSuccess
	if order.ExecutedVolume < quantity*0.999 {
		trade.Status = ledger.StatusPartial
	}

	var remaining *ledger.Position
	if havePos {
		left := pos.Quantity - order.ExecutedVolume
		if !ledger.NearZero(left, 1e-8) && left > 0 {
			p := pos
			p.Quantity = left
			remaining = &p
		}
	}

	if err := e.book.CommitSell(trade, remaining); err != nil {
		e.recordFailure(ticker, ledger.Sell, requested, reason, err)
		return Result{}, fmt.Errorf("sell %s: commit: %w", ticker, err)
	}

	metrics.OrdersTotal.WithLabelValues("sell", string(trade.Status)).Inc()
	e.log.Info().Str("ticker", ticker).Str("trade_id", trade.TradeID).
		Float64("requested", requested).Float64("filled", filledValue).
		Float64("pnl_pct", trade.PnLPct).Str("reason", reason).
		Str("status", string(trade.Status)).Msg("sell executed")

	return Result{Trade: trade, Position: remaining}, nil
}

// waitFill polls the order until it reaches a terminal state or the
// timeout elapses. The last observed order is returned either way so
// partial executions are not lost.
func (e *Executor) waitFill(ctx context.Context, orderID string) (exchange.Order, error) {
	deadline := time.Now().Add(e.timeout)
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	var last exchange.Order
	for {
		order, err := e.ex.GetOrder(ctx, orderID)
		if err == nil {
			last = order
			if order.State == exchange.OrderDone || order.State == exchange.OrderCancel {
				return order, nil
			}
		}

		if time.Now().After(deadline) {
			return last, fmt.Errorf("order %s: %w", orderID, ErrFillTimeout)
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// recordFailure best-effort writes a failed attempt. Ledger errors here
// are logged, not returned; the original failure matters more.
func (e *Executor) recordFailure(ticker string, side ledger.Side, requested float64, reason string, cause error) {
	status := ledger.StatusFailed
	var apiErr *exchange.APIError
	if errors.As(cause, &apiErr) {
		status = ledger.StatusAPIError
	}

	trade := ledger.TradeRecord{
		TradeID:         id.New(),
		Ticker:          ticker,
		Side:            side,
		Status:          status,
		RequestedAmount: requested,
		Reason:          reason,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.book.RecordTrade(trade); err != nil {
		e.log.Error().Err(err).Str("ticker", ticker).Msg("failed to record order failure")
	}
	metrics.OrdersTotal.WithLabelValues(string(side), string(status)).Inc()
	e.log.Error().Err(cause).Str("ticker", ticker).Str("side", string(side)).
		Msg("order failed")
}
