package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrConsistency marks a write the trades/positions constraints rejected.
// The surrounding transaction has been rolled back when this is returned.
var ErrConsistency = errors.New("ledger consistency violation")

type SQLiteLedger struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}

	return &SQLiteLedger{db: db}, nil
}

func wrapConsistency(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrConsistency, err)
	}
	return err
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertTrade(e execer, t TradeRecord) error {
	_, err := e.Exec(`
		INSERT INTO trades
		(trade_id, ticker, side, status, requested_amount, filled_amount, price, pnl_pct, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Ticker, t.Side, t.Status, t.RequestedAmount,
		t.FilledAmount, t.Price, t.PnLPct, t.Reason, t.CreatedAt,
	)
	return wrapConsistency(err)
}

func upsertPosition(e execer, p Position) error {
	_, err := e.Exec(`
		INSERT OR REPLACE INTO positions
		(ticker, entry_price, quantity, entry_time, stop_price, stop_pct, stop_type, atr_at_entry, high_water_mark)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Ticker, p.EntryPrice, p.Quantity, p.EntryTime, p.StopPrice,
		p.StopPct, p.StopType, p.ATRAtEntry, p.HighWaterMark,
	)
	return wrapConsistency(err)
}

// RecordTrade writes a standalone trade row, used for attempts that never
// touch a position (no-fill, rejected, api errors).
func (l *SQLiteLedger) RecordTrade(t TradeRecord) error {
	return insertTrade(l.db, t)
}

// CommitBuy writes the trade and the resulting position in one transaction.
// A constraint failure rolls back both rows.
func (l *SQLiteLedger) CommitBuy(t TradeRecord, p Position) error {
	return l.inTx(func(tx *sql.Tx) error {
		if err := insertTrade(tx, t); err != nil {
			return err
		}
		return upsertPosition(tx, p)
	})
}

// CommitSell writes the trade and either shrinks or deletes the position,
// atomically. remaining nil closes the position.
func (l *SQLiteLedger) CommitSell(t TradeRecord, remaining *Position) error {
	return l.inTx(func(tx *sql.Tx) error {
		if err := insertTrade(tx, t); err != nil {
			return err
		}
		if remaining == nil {
			_, err := tx.Exec(`DELETE FROM positions WHERE ticker = ?`, t.Ticker)
			return wrapConsistency(err)
		}
		return upsertPosition(tx, *remaining)
	})
}

func (l *SQLiteLedger) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

const positionCols = `ticker, entry_price, quantity, entry_time, stop_price, stop_pct, stop_type, atr_at_entry, high_water_mark`

func scanPosition(row interface{ Scan(...any) error }) (Position, error) {
	var p Position
	err := row.Scan(&p.Ticker, &p.EntryPrice, &p.Quantity, &p.EntryTime,
		&p.StopPrice, &p.StopPct, &p.StopType, &p.ATRAtEntry, &p.HighWaterMark)
	return p, err
}

func (l *SQLiteLedger) GetPosition(ticker string) (Position, bool, error) {
	row := l.db.QueryRow(`SELECT `+positionCols+` FROM positions WHERE ticker = ?`, ticker)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, err
	}
	return p, true, nil
}

func (l *SQLiteLedger) OpenPositions() ([]Position, error) {
	rows, err := l.db.Query(`SELECT ` + positionCols + ` FROM positions ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateStop persists a trailing-stop adjustment for an open position.
func (l *SQLiteLedger) UpdateStop(ticker string, stopPrice, stopPct float64, st StopType, highWaterMark float64) error {
	res, err := l.db.Exec(`
		UPDATE positions
		SET stop_price = ?, stop_pct = ?, stop_type = ?, high_water_mark = ?
		WHERE ticker = ?`,
		stopPrice, stopPct, st, highWaterMark, ticker,
	)
	if err != nil {
		return wrapConsistency(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update stop: no open position for %s", ticker)
	}
	return nil
}

// ExpectedHoldings returns the book's view of quantity per ticker, used by
// reconciliation to compare against the exchange.
func (l *SQLiteLedger) ExpectedHoldings() (map[string]float64, error) {
	rows, err := l.db.Query(`SELECT ticker, quantity FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var ticker string
		var qty float64
		if err := rows.Scan(&ticker, &qty); err != nil {
			return nil, err
		}
		out[ticker] = qty
	}
	return out, rows.Err()
}

// Outcomes returns realized returns (fractions) from completed sells,
// oldest first. Feeds Kelly sizing.
func (l *SQLiteLedger) Outcomes(ticker string) ([]float64, error) {
	rows, err := l.db.Query(`
		SELECT pnl_pct FROM trades
		WHERE ticker = ? AND side = ? AND status IN (?, ?)
		ORDER BY created_at`,
		ticker, Sell, StatusSuccess, StatusPartial,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, err
		}
		out = append(out, pnl)
	}
	return out, rows.Err()
}

// TradesBetween returns trade rows created in [start, end), newest last.
func (l *SQLiteLedger) TradesBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := l.db.Query(`
		SELECT trade_id, ticker, side, status, requested_amount, filled_amount, price, pnl_pct, reason, created_at
		FROM trades
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.TradeID, &t.Ticker, &t.Side, &t.Status, &t.RequestedAmount,
			&t.FilledAmount, &t.Price, &t.PnLPct, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TradesToday counts filled orders since local midnight, for the daily cap.
func (l *SQLiteLedger) TradesToday(now time.Time) (int, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var n int
	err := l.db.QueryRow(`
		SELECT COUNT(*) FROM trades
		WHERE created_at >= ? AND status IN (?, ?)`,
		start, StatusSuccess, StatusPartial,
	).Scan(&n)
	return n, err
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
