package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Balance is one currency row from the exchange account.
type Balance struct {
	Currency    string
	Amount      float64
	Locked      float64
	AvgBuyPrice float64
}

// OrderState as reported by the exchange.
type OrderState string

const (
	OrderWait   OrderState = "wait"
	OrderDone   OrderState = "done"
	OrderCancel OrderState = "cancel"
)

// OrderTrade is one execution under an order.
type OrderTrade struct {
	Price  float64
	Volume float64
	Funds  float64
}

// Order is the exchange's view of a placed order.
type Order struct {
	ID             string
	Ticker         string
	Side           string // "bid" or "ask"
	State          OrderState
	ExecutedVolume float64
	PaidFee        float64
	Trades         []OrderTrade
}

// AvgPrice is the volume-weighted execution price, 0 when nothing filled.
func (o Order) AvgPrice() float64 {
	var funds, volume float64
	for _, t := range o.Trades {
		funds += t.Price * t.Volume
		volume += t.Volume
	}
	if volume == 0 {
		return 0
	}
	return funds / volume
}

// FilledValue is the executed notional in quote currency.
func (o Order) FilledValue() float64 {
	var funds float64
	for _, t := range o.Trades {
		funds += t.Price * t.Volume
	}
	return funds
}

// Exchange is the venue surface the executor and reconciler depend on.
type Exchange interface {
	// Balances returns all account balances, including the quote currency.
	Balances(ctx context.Context) ([]Balance, error)
	// CurrentPrice returns the last trade price for a market.
	CurrentPrice(ctx context.Context, ticker string) (float64, error)
	// BuyMarket places a market buy spending amount of quote currency.
	BuyMarket(ctx context.Context, ticker string, amount float64) (string, error)
	// SellMarket places a market sell of quantity base currency.
	SellMarket(ctx context.Context, ticker string, quantity float64) (string, error)
	// GetOrder fetches the current state of an order.
	GetOrder(ctx context.Context, orderID string) (Order, error)
}

// APIError is a structured error the exchange returned in-band.
type APIError struct {
	Name    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error %s: %s", e.Name, e.Message)
}

// ErrInvalidResponseType means the response body had a shape the client
// does not recognize at all.
var ErrInvalidResponseType = errors.New("unexpected response type from exchange")

// MarketCode maps a bare symbol to the quote-prefixed market code, leaving
// already-prefixed codes alone. "BTC" -> "KRW-BTC".
func MarketCode(quote, symbol string) string {
	if strings.Contains(symbol, "-") {
		return symbol
	}
	return quote + "-" + symbol
}

// Symbol strips the quote prefix from a market code. "KRW-BTC" -> "BTC".
func Symbol(ticker string) string {
	if i := strings.Index(ticker, "-"); i >= 0 {
		return ticker[i+1:]
	}
	return ticker
}
