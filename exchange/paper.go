package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Paper is an in-memory venue for tests and dry runs. Orders fill
// instantly at the posted price, scaled by FillRatio.
type Paper struct {
	mu        sync.Mutex
	quote     string
	prices    map[string]float64
	holdings  map[string]float64 // base currency per market code
	avgPrices map[string]float64 // weighted average entry per market code
	cash      float64
	orders    map[string]Order
	FillRatio float64 // fraction of each order that executes, default 1
	FeeRate   float64
}

func NewPaper(quote string, cash float64) *Paper {
	return &Paper{
		quote:     quote,
		prices:    make(map[string]float64),
		holdings:  make(map[string]float64),
		avgPrices: make(map[string]float64),
		cash:      cash,
		orders:    make(map[string]Order),
		FillRatio: 1,
	}
}

func (p *Paper) SetPrice(ticker string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[MarketCode(p.quote, ticker)] = price
}

func (p *Paper) SetHolding(ticker string, qty float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	code := MarketCode(p.quote, ticker)
	p.holdings[code] = qty
	p.avgPrices[code] = p.prices[code]
}

func (p *Paper) Balances(ctx context.Context) ([]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := []Balance{{Currency: p.quote, Amount: p.cash}}
	for code, qty := range p.holdings {
		if qty == 0 {
			continue
		}
		out = append(out, Balance{Currency: Symbol(code), Amount: qty, AvgBuyPrice: p.avgPrices[code]})
	}
	return out, nil
}

func (p *Paper) CurrentPrice(ctx context.Context, ticker string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[MarketCode(p.quote, ticker)]
	if !ok {
		return 0, fmt.Errorf("%w: no price for %s", ErrInvalidResponseType, ticker)
	}
	return price, nil
}

func (p *Paper) BuyMarket(ctx context.Context, ticker string, amount float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	code := MarketCode(p.quote, ticker)
	price, ok := p.prices[code]
	if !ok {
		return "", &APIError{Name: "market_not_found", Message: "no market " + code}
	}
	if amount > p.cash {
		return "", &APIError{Name: "insufficient_funds_bid", Message: "not enough cash"}
	}

	spend := amount * p.FillRatio
	qty := 0.0
	if price > 0 {
		qty = spend / price
	}
	p.cash -= spend
	if held := p.holdings[code]; held+qty > 0 {
		p.avgPrices[code] = (p.avgPrices[code]*held + price*qty) / (held + qty)
	}
	p.holdings[code] += qty

	o := Order{
		ID:             uuid.NewString(),
		Ticker:         code,
		Side:           "bid",
		State:          OrderDone,
		ExecutedVolume: qty,
		PaidFee:        spend * p.FeeRate,
	}
	if qty > 0 {
		o.Trades = []OrderTrade{{Price: price, Volume: qty, Funds: spend}}
	}
	p.orders[o.ID] = o
	return o.ID, nil
}

func (p *Paper) SellMarket(ctx context.Context, ticker string, quantity float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	code := MarketCode(p.quote, ticker)
	price, ok := p.prices[code]
	if !ok {
		return "", &APIError{Name: "market_not_found", Message: "no market " + code}
	}
	if quantity > p.holdings[code] {
		return "", &APIError{Name: "insufficient_funds_ask", Message: "not enough holdings"}
	}

	qty := quantity * p.FillRatio
	proceeds := qty * price
	p.holdings[code] -= qty
	p.cash += proceeds

	o := Order{
		ID:             uuid.NewString(),
		Ticker:         code,
		Side:           "ask",
		State:          OrderDone,
		ExecutedVolume: qty,
		PaidFee:        proceeds * p.FeeRate,
	}
	if qty > 0 {
		o.Trades = []OrderTrade{{Price: price, Volume: qty, Funds: proceeds}}
	}
	p.orders[o.ID] = o
	return o.ID, nil
}

func (p *Paper) GetOrder(ctx context.Context, orderID string) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return Order{}, &APIError{Name: "order_not_found", Message: "no order " + orderID}
	}
	return o, nil
}

// Cash reports remaining quote-currency balance.
func (p *Paper) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}
