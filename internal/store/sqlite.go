package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"simbroker/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Journal = (*SQLiteJournal)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	client_order_id  TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	type             TEXT NOT NULL,
	time_in_force    TEXT NOT NULL,
	qty              TEXT NOT NULL,
	filled_qty       TEXT NOT NULL,
	limit_price      TEXT,
	stop_price       TEXT,
	filled_avg_price TEXT,
	status           TEXT NOT NULL,
	submitted_at     INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	filled_at        INTEGER,
	canceled_at      INTEGER
);
CREATE TABLE IF NOT EXISTS resets (
	at INTEGER NOT NULL
);`

const upsertOrder = `
INSERT INTO orders (
	id, client_order_id, symbol, side, type, time_in_force, qty, filled_qty,
	limit_price, stop_price, filled_avg_price, status,
	submitted_at, updated_at, filled_at, canceled_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	filled_qty       = excluded.filled_qty,
	filled_avg_price = excluded.filled_avg_price,
	status           = excluded.status,
	updated_at       = excluded.updated_at,
	filled_at        = excluded.filled_at,
	canceled_at      = excluded.canceled_at`

// SQLiteJournal mirrors order snapshots into a SQLite database.
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteJournal opens (or creates) a SQLite database at dbPath and makes
// sure the journal tables exist.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal tables: %w", err)
	}
	return &SQLiteJournal{db: db, now: time.Now}, nil
}

// Record inserts the order or updates its mutable columns.
func (j *SQLiteJournal) Record(ctx context.Context, o domain.Order) error {
	_, err := j.db.ExecContext(ctx, upsertOrder,
		o.ID, o.ClientOrderID, o.Symbol, string(o.Side), string(o.Type), string(o.TimeInForce),
		o.Qty.String(), o.FilledQty.String(),
		nullDecimal(o.LimitPrice), nullDecimal(o.StopPrice), nullDecimal(o.FilledAvgPrice),
		string(o.Status),
		o.SubmittedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
		nullMillis(o.FilledAt), nullMillis(o.CanceledAt),
	)
	if err != nil {
		return fmt.Errorf("recording order %s: %w", o.ID, err)
	}
	return nil
}

// Reset logs the reset time; previously journaled orders are kept.
func (j *SQLiteJournal) Reset(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, `INSERT INTO resets (at) VALUES (?)`, j.now().UnixMilli()); err != nil {
		return fmt.Errorf("recording reset: %w", err)
	}
	return nil
}

// Orders returns every journaled order ordered by submission time.
func (j *SQLiteJournal) Orders(ctx context.Context) ([]domain.Order, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, client_order_id, symbol, side, type, time_in_force, qty, filled_qty,
       limit_price, stop_price, filled_avg_price, status,
       submitted_at, updated_at, filled_at, canceled_at
FROM orders ORDER BY submitted_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var (
			o                      domain.Order
			side, typ, tif, status string
			qty, filledQty         string
			limit, stop, avg       sql.NullString
			submitted, updated     int64
			filledAt, canceledAt   sql.NullInt64
		)
		if err := rows.Scan(&o.ID, &o.ClientOrderID, &o.Symbol, &side, &typ, &tif, &qty, &filledQty,
			&limit, &stop, &avg, &status, &submitted, &updated, &filledAt, &canceledAt); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		o.Side = domain.OrderSide(side)
		o.Type = domain.OrderType(typ)
		o.TimeInForce = domain.TimeInForce(tif)
		o.Status = domain.OrderStatus(status)
		if o.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parsing qty for %s: %w", o.ID, err)
		}
		if o.FilledQty, err = decimal.NewFromString(filledQty); err != nil {
			return nil, fmt.Errorf("parsing filled_qty for %s: %w", o.ID, err)
		}
		o.LimitPrice = parseNullDecimal(limit)
		o.StopPrice = parseNullDecimal(stop)
		o.FilledAvgPrice = parseNullDecimal(avg)
		o.SubmittedAt = time.UnixMilli(submitted).UTC()
		o.UpdatedAt = time.UnixMilli(updated).UTC()
		o.FilledAt = parseNullMillis(filledAt)
		o.CanceledAt = parseNullMillis(canceledAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func parseNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
