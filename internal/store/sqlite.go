package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"minbar/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ BarStore = (*SQLiteStore)(nil)

const barSchema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol   TEXT NOT NULL,
	interval TEXT NOT NULL,
	ts       INTEGER NOT NULL,
	open     REAL NOT NULL,
	close    REAL NOT NULL,
	high     REAL NOT NULL,
	low      REAL NOT NULL,
	volume   INTEGER NOT NULL,
	turnover REAL NOT NULL,
	PRIMARY KEY (symbol, interval, ts)
);
`

// SQLiteStore implements BarStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(barSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WriteBars upserts bars for the interval inside one transaction. Replaying
// an overlapping day is a no-op for rows already present.
func (s *SQLiteStore) WriteBars(ctx context.Context, interval domain.Interval, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, interval, ts, open, close, high, low, volume, turnover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, interval, ts) DO UPDATE SET
			open = excluded.open, close = excluded.close,
			high = excluded.high, low = excluded.low,
			volume = excluded.volume, turnover = excluded.turnover`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, b.Symbol, interval, b.Timestamp.Unix(),
			b.Open, b.Close, b.High, b.Low, b.Volume, b.Turnover)
		if err != nil {
			return fmt.Errorf("store: writing bar %s@%s: %w", b.Symbol, b.Timestamp, err)
		}
	}
	return tx.Commit()
}

// ReadBars returns the stored series for [start, end], sorted ascending.
func (s *SQLiteStore) ReadBars(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, ts, open, close, high, low, volume, turnover
		FROM bars
		WHERE symbol = ? AND interval = ? AND ts BETWEEN ? AND ?
		ORDER BY ts`,
		symbol, interval, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var ts int64
		if err := rows.Scan(&b.Symbol, &ts, &b.Open, &b.Close, &b.High, &b.Low, &b.Volume, &b.Turnover); err != nil {
			return nil, err
		}
		b.Timestamp = time.Unix(ts, 0).In(time.Local)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListSymbols returns all distinct symbols stored for the interval.
func (s *SQLiteStore) ListSymbols(ctx context.Context, interval domain.Interval) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT symbol FROM bars WHERE interval = ? ORDER BY symbol", interval)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
