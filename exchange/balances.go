package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// BalancesResult is the tagged outcome of parsing a balances response.
// Exactly one of Rows or Err is meaningful; OK says which.
type BalancesResult struct {
	OK   bool
	Rows []Balance
	Err  error
}

type balanceRow struct {
	Currency    string `json:"currency"`
	Balance     string `json:"balance"`
	Locked      string `json:"locked"`
	AvgBuyPrice string `json:"avg_buy_price"`
}

type errorEnvelope struct {
	Error *struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseBalances is the single type-inspection boundary for the balances
// endpoint. The venue returns either a JSON array of rows or an object
// wrapping an error; the error shape is detected before any row handling
// so a failure can never be iterated as holdings.
func ParseBalances(raw []byte) BalancesResult {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return BalancesResult{Err: fmt.Errorf("%w: empty body", ErrInvalidResponseType)}
	}

	switch trimmed[0] {
	case '{':
		var env errorEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil || env.Error == nil {
			return BalancesResult{Err: fmt.Errorf("%w: object without error field", ErrInvalidResponseType)}
		}
		return BalancesResult{Err: &APIError{Name: env.Error.Name, Message: env.Error.Message}}

	case '[':
		var rows []balanceRow
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return BalancesResult{Err: fmt.Errorf("%w: %v", ErrInvalidResponseType, err)}
		}
		out := make([]Balance, 0, len(rows))
		for _, r := range rows {
			b := Balance{Currency: r.Currency}
			b.Amount = parseFloat(r.Balance)
			b.Locked = parseFloat(r.Locked)
			b.AvgBuyPrice = parseFloat(r.AvgBuyPrice)
			out = append(out, b)
		}
		return BalancesResult{OK: true, Rows: out}

	default:
		return BalancesResult{Err: fmt.Errorf("%w: %q", ErrInvalidResponseType, trimmed[0])}
	}
}

// parseFloat tolerates the venue's numeric strings; garbage reads as 0.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
