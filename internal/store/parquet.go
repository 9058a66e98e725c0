package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"simbroker/internal/domain"
)

// Compile-time interface check.
var _ Journal = (*ParquetJournal)(nil)

// OrderRecord is the Parquet schema for an order snapshot. Decimal fields are
// stored as their exact string form; absent prices are empty strings.
type OrderRecord struct {
	ID             string `parquet:"id"`
	ClientOrderID  string `parquet:"client_order_id"`
	Symbol         string `parquet:"symbol"`
	Side           string `parquet:"side"`
	Type           string `parquet:"type"`
	TimeInForce    string `parquet:"time_in_force"`
	Qty            string `parquet:"qty"`
	FilledQty      string `parquet:"filled_qty"`
	LimitPrice     string `parquet:"limit_price"`
	StopPrice      string `parquet:"stop_price"`
	FilledAvgPrice string `parquet:"filled_avg_price"`
	Status         string `parquet:"status"`
	SubmittedAt    int64  `parquet:"submitted_at,timestamp(millisecond)"`
	UpdatedAt      int64  `parquet:"updated_at,timestamp(millisecond)"`
}

// ParquetJournal buffers the latest snapshot of each order in memory and
// writes them to one Parquet file per session on Flush or Close:
//
//	<Dir>/orders-<YYYYMMDD-HHMMSS>-<session>.parquet
//
// A Reset flushes the current session and starts a new one.
type ParquetJournal struct {
	Dir string

	mu      sync.Mutex
	started time.Time
	session int
	records map[string]int // order ID -> index into rows
	rows    []OrderRecord
	now     func() time.Time
}

// NewParquetJournal creates a ParquetJournal rooted at dir.
func NewParquetJournal(dir string) *ParquetJournal {
	j := &ParquetJournal{Dir: dir, now: time.Now}
	j.started = j.now()
	j.records = make(map[string]int)
	return j
}

// Record buffers the order snapshot, replacing any earlier one.
func (j *ParquetJournal) Record(_ context.Context, o domain.Order) error {
	rec := toOrderRecord(o)
	j.mu.Lock()
	defer j.mu.Unlock()
	if i, ok := j.records[o.ID]; ok {
		j.rows[i] = rec
		return nil
	}
	j.records[o.ID] = len(j.rows)
	j.rows = append(j.rows, rec)
	return nil
}

// Reset flushes the current session to disk and starts an empty one.
func (j *ParquetJournal) Reset(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.flushLocked(); err != nil {
		return err
	}
	j.started = j.now()
	j.session++
	j.records = make(map[string]int)
	j.rows = nil
	return nil
}

// Flush writes the buffered session to disk without clearing it.
func (j *ParquetJournal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

// Close flushes the current session.
func (j *ParquetJournal) Close() error {
	return j.Flush()
}

// Path returns the file the current session is written to.
func (j *ParquetJournal) Path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sessionPath()
}

// ReadOrders reads back a session file written by the journal.
func ReadOrders(path string) ([]OrderRecord, error) {
	return readParquetFile[OrderRecord](path)
}

func (j *ParquetJournal) sessionPath() string {
	name := fmt.Sprintf("orders-%s-%03d.parquet", j.started.UTC().Format("20060102-150405"), j.session)
	return filepath.Join(j.Dir, name)
}

// flushLocked must be called with mu held.
func (j *ParquetJournal) flushLocked() error {
	if len(j.rows) == 0 {
		return nil
	}
	if err := writeParquetFile(j.sessionPath(), j.rows); err != nil {
		return fmt.Errorf("writing order journal: %w", err)
	}
	return nil
}

func toOrderRecord(o domain.Order) OrderRecord {
	rec := OrderRecord{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Type:          string(o.Type),
		TimeInForce:   string(o.TimeInForce),
		Qty:           o.Qty.String(),
		FilledQty:     o.FilledQty.String(),
		Status:        string(o.Status),
		SubmittedAt:   o.SubmittedAt.UnixMilli(),
		UpdatedAt:     o.UpdatedAt.UnixMilli(),
	}
	if o.LimitPrice != nil {
		rec.LimitPrice = o.LimitPrice.String()
	}
	if o.StopPrice != nil {
		rec.StopPrice = o.StopPrice.String()
	}
	if o.FilledAvgPrice != nil {
		rec.FilledAvgPrice = o.FilledAvgPrice.String()
	}
	return rec
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
