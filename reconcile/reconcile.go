package reconcile

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwlim/coinpilot/config"
	"github.com/jwlim/coinpilot/exchange"
	"github.com/jwlim/coinpilot/metrics"
)

// MismatchType classifies a divergence between the exchange and the book.
type MismatchType string

const (
	ManualBuy        MismatchType = "manual_buy"        // on exchange, not in book
	ManualSell       MismatchType = "manual_sell"       // in book, not on exchange
	QuantityMismatch MismatchType = "quantity_mismatch" // both, quantities differ
)

// Mismatch is one divergent ticker. AvgBuyPrice is the exchange-reported
// average entry, carried so an adopted holding can seed a position.
type Mismatch struct {
	Ticker      string
	Type        MismatchType
	ExchangeQty float64
	BookQty     float64
	AvgBuyPrice float64
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	Mismatches []Mismatch
	CheckedAt  time.Time
	Degraded   bool // true when a failure produced an empty report
}

// SyncAction is what the configured policy wants done about a mismatch.
// The reconciler itself never mutates the book; actions are intents for
// the caller.
type SyncAction string

const (
	ActionAdoptHolding SyncAction = "adopt_holding"
	ActionDropHolding  SyncAction = "drop_holding"
	ActionAdjustQty    SyncAction = "adjust_quantity"
)

type Adjustment struct {
	Ticker      string
	Action      SyncAction
	Quantity    float64 // exchange-side quantity, the source of truth to adopt
	AvgBuyPrice float64 // entry price for an adopted holding
}

// Book is the ledger surface reconciliation reads. It never writes.
type Book interface {
	ExpectedHoldings() (map[string]float64, error)
}

// Reconciler compares exchange holdings against the book.
type Reconciler struct {
	ex    exchange.Exchange
	book  Book
	cfg   config.ReconcileConfig
	quote string
	log   zerolog.Logger
}

func New(ex exchange.Exchange, book Book, cfg config.ReconcileConfig, quote string, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		ex:    ex,
		book:  book,
		cfg:   cfg,
		quote: quote,
		log:   log.With().Str("component", "reconcile").Logger(),
	}
}

func (r *Reconciler) blacklisted(ticker string) bool {
	for _, b := range r.cfg.Blacklist {
		if b == ticker {
			return true
		}
	}
	return false
}

// Detect compares holdings and classifies divergences. It never returns
// an error: any failure is logged and yields an empty, degraded report,
// so a flaky balances endpoint cannot take down the trading cycle.
func (r *Reconciler) Detect(ctx context.Context) Report {
	report := Report{CheckedAt: time.Now().UTC()}

	balances, err := r.ex.Balances(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("balances unavailable, skipping reconciliation")
		report.Degraded = true
		return report
	}

	expected, err := r.book.ExpectedHoldings()
	if err != nil {
		r.log.Warn().Err(err).Msg("book unreadable, skipping reconciliation")
		report.Degraded = true
		return report
	}

	type holding struct {
		qty      float64
		avgPrice float64
	}
	actual := make(map[string]holding)
	for _, b := range balances {
		if b.Currency == r.quote {
			continue
		}
		ticker := exchange.MarketCode(r.quote, b.Currency)
		if r.blacklisted(ticker) {
			continue
		}
		qty := b.Amount + b.Locked
		if qty <= r.cfg.Tolerance {
			continue
		}
		actual[ticker] = holding{qty: qty, avgPrice: b.AvgBuyPrice}
	}

	for ticker, h := range actual {
		bookQty, inBook := expected[ticker]
		switch {
		case !inBook:
			report.Mismatches = append(report.Mismatches, Mismatch{
				Ticker: ticker, Type: ManualBuy, ExchangeQty: h.qty, AvgBuyPrice: h.avgPrice,
			})
		case math.Abs(h.qty-bookQty) > r.cfg.Tolerance:
			report.Mismatches = append(report.Mismatches, Mismatch{
				Ticker: ticker, Type: QuantityMismatch,
				ExchangeQty: h.qty, BookQty: bookQty, AvgBuyPrice: h.avgPrice,
			})
		}
	}

	for ticker, bookQty := range expected {
		if r.blacklisted(ticker) {
			continue
		}
		if _, onExchange := actual[ticker]; !onExchange {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Ticker: ticker, Type: ManualSell, BookQty: bookQty,
			})
		}
	}

	// Map iteration order is random; repeated passes over the same state
	// must report identical results.
	sort.Slice(report.Mismatches, func(i, j int) bool {
		return report.Mismatches[i].Ticker < report.Mismatches[j].Ticker
	})

	for _, m := range report.Mismatches {
		metrics.ReconcileMismatches.WithLabelValues(string(m.Type)).Inc()
	}
	return report
}

// Apply runs the configured sync policy over a report. ignore drops it,
// alert logs every mismatch, adopt additionally returns adjustment
// intents for the caller to route through the executor path.
func (r *Reconciler) Apply(report Report) []Adjustment {
	if r.cfg.SyncPolicy == "ignore" || len(report.Mismatches) == 0 {
		return nil
	}

	for _, m := range report.Mismatches {
		r.log.Warn().Str("ticker", m.Ticker).Str("type", string(m.Type)).
			Float64("exchange_qty", m.ExchangeQty).Float64("book_qty", m.BookQty).
			Msg("portfolio mismatch")
	}
	if r.cfg.SyncPolicy != "adopt" {
		return nil
	}

	out := make([]Adjustment, 0, len(report.Mismatches))
	for _, m := range report.Mismatches {
		switch m.Type {
		case ManualBuy:
			out = append(out, Adjustment{
				Ticker: m.Ticker, Action: ActionAdoptHolding,
				Quantity: m.ExchangeQty, AvgBuyPrice: m.AvgBuyPrice,
			})
		case ManualSell:
			out = append(out, Adjustment{Ticker: m.Ticker, Action: ActionDropHolding})
		case QuantityMismatch:
			out = append(out, Adjustment{Ticker: m.Ticker, Action: ActionAdjustQty, Quantity: m.ExchangeQty})
		}
	}
	return out
}
