package exit

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/jwlim/coinpilot/config"
	"github.com/jwlim/coinpilot/ledger"
	"github.com/jwlim/coinpilot/market"
	"github.com/jwlim/coinpilot/stops"
)

// Priorities of the exit waterfall. Lower wins.
const (
	PriorityStopLoss      = 1
	PriorityTrendReversal = 2
	PriorityProfitTaking  = 3
	PriorityTrailingStop  = 4
)

// Context carries everything one evaluation needs.
type Context struct {
	Pos     ledger.Position
	Snap    market.Snapshot
	Now     time.Time
	WinRate float64
	Kelly   float64
}

func (ec Context) returnPct() float64 {
	return ec.Pos.ReturnPct(ec.Snap.Price)
}

// Signal is the decision for one position. Stop, when set, carries a
// trailing-stop adjustment to persist regardless of the exit outcome.
type Signal struct {
	Exit      bool
	Rule      string
	Priority  int
	Reason    string
	Price     float64
	ReturnPct float64
	Stop      *stops.Update
}

// Rule is one predicate in the waterfall. Eval returns (signal, true) when
// the rule has an opinion; false passes evaluation to the next rule.
type Rule struct {
	Name     string
	Priority int
	Eval     func(cfg config.ExitConfig, ec Context) (Signal, bool)
}

// Engine evaluates the ordered exit waterfall. The first matching rule
// short-circuits everything below it.
type Engine struct {
	cfg      config.ExitConfig
	trailing *stops.Manager
	rules    []Rule
	log      zerolog.Logger
}

func New(cfg config.ExitConfig, trailing *stops.Manager, log zerolog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		trailing: trailing,
		log:      log.With().Str("component", "exit").Logger(),
	}
	e.rules = []Rule{
		{Name: "fixed_stop_loss", Priority: PriorityStopLoss, Eval: fixedStopLoss},
		{Name: "atr_stop_loss", Priority: PriorityStopLoss, Eval: atrStopLoss},
		{Name: "kelly_stop_loss", Priority: PriorityStopLoss, Eval: kellyStopLoss},
		{Name: "gap_down", Priority: PriorityTrendReversal, Eval: gapDown},
		{Name: "support_break", Priority: PriorityTrendReversal, Eval: supportBreak},
		{Name: "bearish_vote", Priority: PriorityTrendReversal, Eval: bearishVote},
		{Name: "distribution_phase", Priority: PriorityTrendReversal, Eval: distributionPhase},
		{Name: "fixed_take_profit", Priority: PriorityProfitTaking, Eval: fixedTakeProfit},
		{Name: "holding_take_profit", Priority: PriorityProfitTaking, Eval: holdingTakeProfit},
		{Name: "market_take_profit", Priority: PriorityProfitTaking, Eval: marketTakeProfit},
		{Name: "trailing_stop", Priority: PriorityTrailingStop, Eval: e.trailingStop},
	}
	return e
}

// Rules exposes the waterfall order, highest priority first.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Evaluate walks the waterfall and returns the first matching signal, or a
// hold. Big winners skip the profit-taking tier so a runaway position is
// not sold into strength; whether they also skip the protective tiers is a
// config decision.
func (e *Engine) Evaluate(ec Context) Signal {
	ret := ec.returnPct()
	bigWinner := ret >= e.cfg.BigWinnerPct

	for _, r := range e.rules {
		if bigWinner && r.Priority == PriorityProfitTaking {
			continue
		}
		if bigWinner && e.cfg.BigWinnerOverridesStops && r.Priority < PriorityTrailingStop {
			continue
		}
		sig, ok := r.Eval(e.cfg, ec)
		if !ok {
			continue
		}
		sig.Rule = r.Name
		sig.Priority = r.Priority
		sig.Price = ec.Snap.Price
		sig.ReturnPct = ret
		if sig.Exit {
			e.log.Info().Str("ticker", ec.Pos.Ticker).Str("rule", r.Name).
				Int("priority", r.Priority).Float64("return_pct", ret).
				Str("reason", sig.Reason).Msg("exit signal")
		}
		return sig
	}

	return Signal{Price: ec.Snap.Price, ReturnPct: ret}
}

// trailingStop delegates priority 4 to the state machine. It always
// matches so stop adjustments reach the caller even on a hold.
func (e *Engine) trailingStop(_ config.ExitConfig, ec Context) (Signal, bool) {
	up := e.trailing.Evaluate(ec.Pos, ec.Snap, ec.Now)
	return Signal{
		Exit:   up.Exit,
		Reason: up.Reason,
		Stop:   &up,
	}, true
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
