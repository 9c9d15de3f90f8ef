package stops

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwlim/coinpilot/config"
	"github.com/jwlim/coinpilot/ledger"
	"github.com/jwlim/coinpilot/market"
)

// State of the trailing stop for one ticker. Transitions are one-way:
// Inactive -> Active -> Triggered.
type State int

const (
	Inactive State = iota
	Active
	Triggered
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Triggered:
		return "triggered"
	default:
		return "inactive"
	}
}

// Update is the outcome of one trailing-stop evaluation. Stop fields carry
// the values to persist on the position; Exit is set only on a trigger.
type Update struct {
	State         State
	StopPrice     float64
	StopPct       float64
	StopType      ledger.StopType
	HighWaterMark float64
	Exit          bool
	Reason        string
}

// Manager runs the trailing-stop state machine across tickers.
type Manager struct {
	cfg config.StopsConfig
	log zerolog.Logger

	mu     sync.Mutex
	states map[string]State
}

func New(cfg config.StopsConfig, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		log:    log.With().Str("component", "trailing_stop").Logger(),
		states: make(map[string]State),
	}
}

// State reports the current state for a ticker, rehydrating Active from a
// persisted position when the in-memory map is cold (process restart).
func (m *Manager) State(ticker string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[ticker]
}

// Reset clears a ticker after its position closes.
func (m *Manager) Reset(ticker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, ticker)
}

func (m *Manager) state(pos ledger.Position) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[pos.Ticker]
	if !ok {
		// Cold start: a position persisted with a trailing stop type was
		// Active when last seen.
		switch pos.StopType {
		case ledger.StopATRTrailing, ledger.StopATRFixed, ledger.StopClampedMin, ledger.StopClampedMax:
			st = Active
		default:
			st = Inactive
		}
		m.states[pos.Ticker] = st
	}
	return st
}

func (m *Manager) setState(ticker string, st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[ticker] = st
}

// Evaluate advances the state machine for one position against the latest
// snapshot. It never mutates the position; the caller persists the
// returned stop values.
func (m *Manager) Evaluate(pos ledger.Position, snap market.Snapshot, now time.Time) Update {
	st := m.state(pos)

	hwm := pos.HighWaterMark
	if snap.Price > hwm {
		hwm = snap.Price
	}

	up := Update{
		State:         st,
		StopPrice:     pos.StopPrice,
		StopPct:       pos.StopPct,
		StopType:      pos.StopType,
		HighWaterMark: hwm,
	}

	if st == Triggered {
		up.Exit = true
		up.Reason = "trailing_stop"
		return up
	}

	ret := pos.ReturnPct(snap.Price)
	holding := pos.HoldingDays(now)

	if st == Inactive {
		if ret < m.cfg.MinRisePct || holding < m.cfg.MinHoldingDays {
			return up
		}
		st = Active
		m.setState(pos.Ticker, st)
		up.State = st
		m.log.Info().Str("ticker", pos.Ticker).
			Float64("return_pct", ret).Int("holding_days", holding).
			Msg("trailing stop activated")
	}

	stopPrice, stopPct, stopType := m.computeStop(pos, snap, hwm, holding)

	// Ratchet: the stop only moves up.
	if stopPrice > pos.StopPrice {
		up.StopPrice = stopPrice
		up.StopPct = stopPct
		up.StopType = stopType
	}

	if m.strongUptrend(snap, ret) {
		m.log.Debug().Str("ticker", pos.Ticker).Float64("return_pct", ret).
			Msg("strong uptrend, trailing exit suppressed")
		return up
	}

	if snap.Price <= up.StopPrice {
		m.setState(pos.Ticker, Triggered)
		up.State = Triggered
		up.Exit = true
		up.Reason = "trailing_stop"
		m.log.Info().Str("ticker", pos.Ticker).
			Float64("price", snap.Price).Float64("stop", up.StopPrice).
			Str("stop_type", string(up.StopType)).
			Msg("trailing stop triggered")
	}

	return up
}

// computeStop derives the candidate stop from the high-water mark and the
// entry-anchored floor, then clamps the implied stop distance.
func (m *Manager) computeStop(pos ledger.Position, snap market.Snapshot, hwm float64, holdingDays int) (price, pct float64, st ledger.StopType) {
	atr := snap.ATR
	if atr <= 0 {
		atr = pos.ATRAtEntry
	}

	distance := atr * m.cfg.ATRMultiplier * m.volFactor(snap) * m.holdFactor(holdingDays)
	trail := hwm - distance
	fixed := pos.EntryPrice * (1 - m.cfg.BaseStopPct)

	candidate := trail
	st = ledger.StopATRTrailing
	if fixed > trail {
		candidate = fixed
		st = ledger.StopATRFixed
	}

	pct = (pos.EntryPrice - candidate) / pos.EntryPrice
	switch {
	case pct <= 0:
		// Stop already above entry: pure profit protection, no clamping.
	case pct < m.cfg.MinStopPct:
		pct = m.cfg.MinStopPct
		st = ledger.StopClampedMin
	case pct > m.cfg.MaxStopPct:
		pct = m.cfg.MaxStopPct
		st = ledger.StopClampedMax
	}

	price = pos.EntryPrice * (1 - pct)
	return price, pct, st
}

func (m *Manager) volFactor(snap market.Snapshot) float64 {
	ratio := snap.ATRRatio()
	switch {
	case ratio > m.cfg.HighVolRatio:
		return m.cfg.HighVolFactor
	case ratio > m.cfg.MediumVolRatio:
		return m.cfg.MedVolFactor
	default:
		return m.cfg.LowVolFactor
	}
}

func (m *Manager) holdFactor(days int) float64 {
	switch {
	case days <= m.cfg.ShortHoldDays:
		return m.cfg.ShortHoldFactor
	case days <= m.cfg.MidHoldDays:
		return m.cfg.MidHoldFactor
	default:
		return m.cfg.LongHoldFactor
	}
}

// strongUptrend holds the exit when momentum is intact: RSI in band, MACD
// above its signal, MA20 still rising, and the position well in profit.
func (m *Manager) strongUptrend(snap market.Snapshot, ret float64) bool {
	if snap.RSI < m.cfg.UptrendRSIMin || snap.RSI > m.cfg.UptrendRSIMax {
		return false
	}
	if snap.MACD <= snap.MACDSignal {
		return false
	}
	if snap.MA20Slope < m.cfg.UptrendMA20Slope {
		return false
	}
	return ret >= m.cfg.UptrendMinProfit
}
