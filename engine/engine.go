package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwlim/coinpilot/config"
	"github.com/jwlim/coinpilot/exchange"
	"github.com/jwlim/coinpilot/executor"
	"github.com/jwlim/coinpilot/exit"
	"github.com/jwlim/coinpilot/ledger"
	"github.com/jwlim/coinpilot/market"
	"github.com/jwlim/coinpilot/metrics"
	"github.com/jwlim/coinpilot/reconcile"
	"github.com/jwlim/coinpilot/sizing"
	"github.com/jwlim/coinpilot/stops"
)

// Candidate is a buy candidate for one cycle, with its market snapshot
// already attached by the upstream screener.
type Candidate struct {
	Ticker string          `json:"ticker" yaml:"ticker"`
	Snap   market.Snapshot `json:"snapshot" yaml:"snapshot"`
}

// SnapshotSource provides the market view for a ticker during position
// evaluation.
type SnapshotSource interface {
	Snapshot(ctx context.Context, ticker string) (market.Snapshot, error)
}

// Engine runs one full trading cycle: reconcile, manage open positions
// through the exit waterfall, then deploy capital into candidates.
type Engine struct {
	cfg      config.EngineConfig
	ex       exchange.Exchange
	exec     *executor.Executor
	sizer    *sizing.Sizer
	exits    *exit.Engine
	trailing *stops.Manager
	rec      *reconcile.Reconciler
	book     ledger.Ledger
	snaps    SnapshotSource
	quote    string
	log      zerolog.Logger
}

type Deps struct {
	Exchange   exchange.Exchange
	Executor   *executor.Executor
	Sizer      *sizing.Sizer
	Exits      *exit.Engine
	Trailing   *stops.Manager
	Reconciler *reconcile.Reconciler
	Book       ledger.Ledger
	Snapshots  SnapshotSource
	Quote      string
}

func New(cfg config.EngineConfig, d Deps, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		ex:       d.Exchange,
		exec:     d.Executor,
		sizer:    d.Sizer,
		exits:    d.Exits,
		trailing: d.Trailing,
		rec:      d.Reconciler,
		book:     d.Book,
		snaps:    d.Snapshots,
		quote:    d.Quote,
		log:      log.With().Str("component", "engine").Logger(),
	}
}

// Cycle runs one pass under the configured wall-clock budget.
func (e *Engine) Cycle(ctx context.Context, candidates []Candidate) error {
	budget, err := e.cfg.ParseCycleBudget()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	report := e.rec.Detect(ctx)
	adjustments := e.rec.Apply(report)
	for _, a := range adjustments {
		// Adjustment intents are logged for the operator; adopting a
		// manual position automatically is deliberately out of reach of
		// the reconciler itself.
		e.log.Warn().Str("ticker", a.Ticker).Str("action", string(a.Action)).
			Float64("quantity", a.Quantity).Float64("avg_buy_price", a.AvgBuyPrice).
			Msg("sync adjustment pending")
	}

	if err := e.managePositions(ctx); err != nil {
		return fmt.Errorf("manage positions: %w", err)
	}
	if err := e.enterCandidates(ctx, candidates); err != nil {
		return fmt.Errorf("enter candidates: %w", err)
	}

	metrics.CyclesTotal.Inc()
	return nil
}

// managePositions walks open positions through the exit waterfall.
func (e *Engine) managePositions(ctx context.Context) error {
	positions, err := e.book.OpenPositions()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			return err
		}

		snap, err := e.snaps.Snapshot(ctx, pos.Ticker)
		if err != nil {
			e.log.Warn().Err(err).Str("ticker", pos.Ticker).
				Msg("no snapshot, holding position")
			continue
		}

		hist := e.history(pos.Ticker)
		sig := e.exits.Evaluate(exit.Context{
			Pos:     pos,
			Snap:    snap,
			Now:     now,
			WinRate: hist.WinRate,
			Kelly:   sizing.Kelly(hist),
		})

		if sig.Stop != nil && sig.Stop.StopPrice != pos.StopPrice {
			if err := e.book.UpdateStop(pos.Ticker, sig.Stop.StopPrice,
				sig.Stop.StopPct, sig.Stop.StopType, sig.Stop.HighWaterMark); err != nil {
				e.log.Error().Err(err).Str("ticker", pos.Ticker).Msg("stop update failed")
			}
		}

		if !sig.Exit {
			continue
		}
		metrics.ExitSignals.WithLabelValues(sig.Rule).Inc()

		if e.cfg.DryRun {
			e.log.Info().Str("ticker", pos.Ticker).Str("rule", sig.Rule).
				Msg("dry run: would sell")
			continue
		}

		if _, err := e.exec.Sell(ctx, pos.Ticker, pos.Quantity, sig.Rule); err != nil {
			e.log.Error().Err(err).Str("ticker", pos.Ticker).Msg("exit sell failed")
			continue
		}
		e.trailing.Reset(pos.Ticker)
	}
	return nil
}

// enterCandidates sizes and buys candidates while caps allow.
func (e *Engine) enterCandidates(ctx context.Context, candidates []Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	capital, err := e.quoteBalance(ctx)
	if err != nil {
		return err
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		trades, err := e.book.TradesToday(time.Now())
		if err != nil {
			return err
		}
		if trades >= e.cfg.MaxDailyTrades {
			e.log.Info().Int("trades", trades).Msg("daily trade cap reached")
			return nil
		}

		open, err := e.book.OpenPositions()
		if err != nil {
			return err
		}
		if len(open) >= e.cfg.MaxPositions {
			e.log.Info().Int("positions", len(open)).Msg("position cap reached")
			return nil
		}

		if _, held, err := e.book.GetPosition(c.Ticker); err != nil {
			return err
		} else if held {
			continue
		}

		hist := e.history(c.Ticker)
		if hist.Trades == 0 {
			hist.WinRate = e.sizer.EstimateWinRate(c.Snap)
		}

		amount, err := e.sizer.Size(c.Ticker, capital, hist)
		if err != nil {
			if errors.Is(err, sizing.ErrInsufficientCapital) {
				e.log.Info().Err(err).Str("ticker", c.Ticker).Msg("skipping candidate")
				continue
			}
			return err
		}

		if e.cfg.DryRun {
			e.log.Info().Str("ticker", c.Ticker).Float64("amount", amount).
				Msg("dry run: would buy")
			continue
		}

		res, err := e.exec.Buy(ctx, c.Ticker, amount, c.Snap.ATR, "entry")
		if err != nil {
			e.log.Error().Err(err).Str("ticker", c.Ticker).Msg("entry buy failed")
			continue
		}
		capital -= res.Trade.FilledAmount
	}
	return nil
}

// history loads realized outcomes for a ticker; unreadable history reads
// as empty, pushing sizing to its conservative floor.
func (e *Engine) history(ticker string) sizing.History {
	outcomes, err := e.book.Outcomes(ticker)
	if err != nil {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("trade history unavailable")
		return sizing.History{}
	}
	return sizing.FromOutcomes(outcomes)
}

func (e *Engine) quoteBalance(ctx context.Context) (float64, error) {
	balances, err := e.ex.Balances(ctx)
	if err != nil {
		return 0, fmt.Errorf("quote balance: %w", err)
	}
	for _, b := range balances {
		if b.Currency == e.quote {
			return b.Amount, nil
		}
	}
	return 0, nil
}
