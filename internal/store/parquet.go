package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"minbar/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore with Parquet year files on disk, used as
// the archive format for resampled output. Layout:
//
//	<DataDir>/cn/<interval>/<SYMBOL>/<YYYY>.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// BarRecord is the on-disk Parquet schema for bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
	Turnover  float64 `parquet:"turnover"`
}

// WriteBars writes bars grouped by symbol and year, merging with any
// existing file and deduplicating on (symbol, timestamp) so rewrites of
// overlapping ranges stay idempotent.
func (s *ParquetStore) WriteBars(_ context.Context, interval domain.Interval, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: b.Symbol, year: b.Timestamp.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    b.Symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Turnover:  b.Turnover,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, interval, k.year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("store: writing %s %s/%d: %w", interval, k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads the archived series for the symbol within [start, end].
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[BarRecord](s.barPath(symbol, interval, year))
		if err != nil {
			// No file for this year.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).In(time.Local)
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    r.Symbol,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
				Turnover:  r.Turnover,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols with archived data for the interval.
func (s *ParquetStore) ListSymbols(_ context.Context, interval domain.Interval) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "cn", string(interval)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// barPath returns the archive path for one symbol-year file.
func (s *ParquetStore) barPath(symbol string, interval domain.Interval, year int) string {
	return filepath.Join(s.DataDir, "cn", string(interval), strings.ToUpper(symbol),
		fmt.Sprintf("%d.parquet", year))
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
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates records by (symbol, timestamp), preferring
// incoming over existing, and returns them sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
