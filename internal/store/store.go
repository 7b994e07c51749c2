// Package store persists OHLCV bars: a SQLite table for the live 1-minute
// and daily series the scheduler writes, and Parquet year files for the
// resampled archive.
package store

import (
	"context"
	"time"

	"minbar/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars for the given interval. Writes are
	// idempotent upserts keyed by (symbol, timestamp).
	WriteBars(ctx context.Context, interval domain.Interval, bars []domain.Bar) error

	// ReadBars returns bars for the symbol and interval within [start, end],
	// sorted ascending by timestamp.
	ReadBars(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols stored for the interval.
	ListSymbols(ctx context.Context, interval domain.Interval) ([]string, error)
}
