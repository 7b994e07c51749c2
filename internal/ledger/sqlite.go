package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"minbar/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS download_ledger (
	symbol       TEXT PRIMARY KEY,
	segment      TEXT NOT NULL,
	last_synced  INTEGER NOT NULL DEFAULT 0,
	last_record  INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	row_count    INTEGER NOT NULL DEFAULT 0,
	last_attempt INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ledger_status ON download_ledger (status);
`

// SQLiteStore implements Store backed by a SQLite database. A mutex keeps
// writes single-file; SQLite itself would serialize them anyway but the
// explicit lock keeps transition read-modify-write sequences atomic.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the ledger database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: migrating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

const recordColumns = "symbol, segment, last_synced, last_record, status, retry_count, error, row_count, last_attempt"

// Get returns the record for symbol.
func (s *SQLiteStore) Get(ctx context.Context, symbol string) (domain.DownloadRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM download_ledger WHERE symbol = ?", symbol)
	return scanRecord(row)
}

// Pending returns every record that is not excluded and whose synced date is
// behind target. Success records re-qualify once a newer trading day exists,
// which is how the daily renew picks up the whole universe again.
func (s *SQLiteStore) Pending(ctx context.Context, target time.Time) ([]domain.DownloadRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+` FROM download_ledger
		 WHERE status != ? AND last_synced < ? ORDER BY symbol`,
		domain.StatusExcluded, target.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DownloadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Put upserts a full record.
func (s *SQLiteStore) Put(ctx context.Context, rec domain.DownloadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_ledger (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			segment = excluded.segment,
			last_synced = excluded.last_synced,
			last_record = excluded.last_record,
			status = excluded.status,
			retry_count = excluded.retry_count,
			error = excluded.error,
			row_count = excluded.row_count,
			last_attempt = excluded.last_attempt`,
		rec.Symbol, rec.Segment, unix(rec.LastSynced), unix(rec.LastRecord),
		rec.Status, rec.RetryCount, rec.Error, rec.RowCount, unix(rec.LastAttempt))
	return err
}

// Seed inserts pending records for untracked symbols, leaving existing rows
// alone. Returns the number of records created.
func (s *SQLiteStore) Seed(ctx context.Context, symbols []string, segment domain.Segment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	created := 0
	for _, symbol := range symbols {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO download_ledger (symbol, segment, status)
			VALUES (?, ?, ?)
			ON CONFLICT(symbol) DO NOTHING`,
			symbol, segment, domain.StatusPending)
		if err != nil {
			return 0, fmt.Errorf("ledger: seeding %s: %w", symbol, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		created += int(n)
	}
	return created, tx.Commit()
}

// MarkProcessing transitions symbol to processing.
func (s *SQLiteStore) MarkProcessing(ctx context.Context, symbol string, now time.Time) error {
	return s.transition(ctx, symbol, `
		UPDATE download_ledger SET status = ?, last_attempt = ?
		WHERE symbol = ?`,
		domain.StatusProcessing, now.Unix(), symbol)
}

// MarkSuccess transitions symbol to success and advances its bookkeeping.
func (s *SQLiteStore) MarkSuccess(ctx context.Context, symbol string, lastSynced, lastRecord time.Time, rows int64) error {
	return s.transition(ctx, symbol, `
		UPDATE download_ledger
		SET status = ?, last_synced = ?, last_record = ?,
		    row_count = row_count + ?, retry_count = 0, error = ''
		WHERE symbol = ?`,
		domain.StatusSuccess, unix(lastSynced), unix(lastRecord), rows, symbol)
}

// MarkFailed transitions symbol to failed, keeping the most specific cause.
func (s *SQLiteStore) MarkFailed(ctx context.Context, symbol, errMsg string, now time.Time) error {
	return s.transition(ctx, symbol, `
		UPDATE download_ledger
		SET status = ?, error = ?, retry_count = retry_count + 1, last_attempt = ?
		WHERE symbol = ?`,
		domain.StatusFailed, errMsg, now.Unix(), symbol)
}

// ResetFailed flips failed records back to pending.
func (s *SQLiteStore) ResetFailed(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE download_ledger SET status = ?, retry_count = 0
		WHERE status = ?`,
		domain.StatusPending, domain.StatusFailed)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) transition(ctx context.Context, symbol, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("ledger: no record for symbol %s", symbol)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (domain.DownloadRecord, error) {
	var rec domain.DownloadRecord
	var lastSynced, lastRecord, lastAttempt int64
	err := row.Scan(&rec.Symbol, &rec.Segment, &lastSynced, &lastRecord,
		&rec.Status, &rec.RetryCount, &rec.Error, &rec.RowCount, &lastAttempt)
	if err != nil {
		return domain.DownloadRecord{}, err
	}
	rec.LastSynced = fromUnix(lastSynced)
	rec.LastRecord = fromUnix(lastRecord)
	rec.LastAttempt = fromUnix(lastAttempt)
	return rec, nil
}

// unix stores zero times as 0 so fresh records sort before any real date.
func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).In(time.Local)
}
