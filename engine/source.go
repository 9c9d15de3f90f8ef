package engine

import (
	"context"

	"github.com/jwlim/coinpilot/exchange"
	"github.com/jwlim/coinpilot/market"
)

// StoreSource serves snapshots from a market.Store, refreshed with the
// live price from the exchange. A ticker missing from the store degrades
// to a price-only snapshot so protective exits keep working for it.
type StoreSource struct {
	store *market.Store
	ex    exchange.Exchange
}

func NewStoreSource(store *market.Store, ex exchange.Exchange) *StoreSource {
	return &StoreSource{store: store, ex: ex}
}

func (s *StoreSource) Snapshot(ctx context.Context, ticker string) (market.Snapshot, error) {
	snap, err := s.store.Get(ticker)
	if err != nil {
		price, perr := s.ex.CurrentPrice(ctx, ticker)
		if perr != nil {
			return market.Snapshot{}, perr
		}
		return market.Snapshot{Ticker: ticker, Price: price}, nil
	}

	if price, perr := s.ex.CurrentPrice(ctx, ticker); perr == nil && price > 0 {
		snap.Price = price
	}
	return snap, nil
}
