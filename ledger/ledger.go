package ledger

import (
	"math"
	"time"
)

// StopType records which rule produced the current stop for a position.
type StopType string

const (
	StopATRTrailing   StopType = "atr_trailing"
	StopATRFixed      StopType = "atr_fixed"
	StopClampedMin    StopType = "clamped_min"
	StopClampedMax    StopType = "clamped_max"
	StopKelly         StopType = "kelly_stop"
	StopFixedFallback StopType = "fixed_fallback"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderStatus is the terminal outcome recorded for an order attempt.
type OrderStatus string

const (
	StatusSuccess  OrderStatus = "success"
	StatusPartial  OrderStatus = "partial"
	StatusNoFill   OrderStatus = "no_fill"
	StatusFailed   OrderStatus = "failed"
	StatusAPIError OrderStatus = "api_error"
)

type TradeRecord struct {
	TradeID         string
	Ticker          string
	Side            Side
	Status          OrderStatus
	RequestedAmount float64 // quote currency the caller asked for
	FilledAmount    float64 // quote currency actually executed
	Price           float64 // average fill price, 0 when nothing filled
	PnLPct          float64 // realized return, sells only
	Reason          string
	CreatedAt       time.Time
}

// Position is one open holding. The positions table keys on ticker, so
// there is at most one per market.
type Position struct {
	Ticker        string
	EntryPrice    float64
	Quantity      float64
	EntryTime     time.Time
	StopPrice     float64
	StopPct       float64
	StopType      StopType
	ATRAtEntry    float64
	HighWaterMark float64
}

// HoldingDays returns whole days held, floored.
func (p Position) HoldingDays(now time.Time) int {
	if now.Before(p.EntryTime) {
		return 0
	}
	return int(now.Sub(p.EntryTime).Hours() / 24)
}

// HoldingHours returns hours held, fractional part dropped.
func (p Position) HoldingHours(now time.Time) float64 {
	if now.Before(p.EntryTime) {
		return 0
	}
	return now.Sub(p.EntryTime).Hours()
}

// ReturnPct is the open return at price, as a fraction.
func (p Position) ReturnPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// Value is the position notional at price.
func (p Position) Value(price float64) float64 {
	return p.Quantity * price
}

// Ledger is the persistence surface the executor and engine depend on.
type Ledger interface {
	RecordTrade(TradeRecord) error
	CommitBuy(TradeRecord, Position) error
	CommitSell(TradeRecord, *Position) error
	GetPosition(ticker string) (Position, bool, error)
	OpenPositions() ([]Position, error)
	UpdateStop(ticker string, stopPrice, stopPct float64, st StopType, highWaterMark float64) error
	ExpectedHoldings() (map[string]float64, error)
	Outcomes(ticker string) ([]float64, error)
	TradesToday(now time.Time) (int, error)
	Close() error
}

// NearZero reports whether a quantity is dust at the given tolerance.
func NearZero(qty, tolerance float64) bool {
	return math.Abs(qty) <= tolerance
}
