// Package ledger owns the per-symbol download state machine:
// pending -> processing -> success | failed, with failed symbols picked up
// again on the next run and excluded symbols skipped forever. Records are
// created once at onboarding and only ever transitioned, never deleted.
package ledger

import (
	"context"
	"time"

	"minbar/internal/domain"
)

// Store is the download-ledger persistence contract. Implementations must
// serialize writes; the scheduler is the only writer but operators may read
// concurrently.
type Store interface {
	// Get returns the record for symbol.
	Get(ctx context.Context, symbol string) (domain.DownloadRecord, error)

	// Put upserts a full record. Used by onboarding and operator tooling.
	Put(ctx context.Context, rec domain.DownloadRecord) error

	// Seed creates pending records for any symbols not yet tracked.
	// Existing records are left untouched.
	Seed(ctx context.Context, symbols []string, segment domain.Segment) (int, error)

	// Pending returns records whose data is behind target and that are not
	// excluded, ordered by symbol.
	Pending(ctx context.Context, target time.Time) ([]domain.DownloadRecord, error)

	// MarkProcessing transitions symbol to processing and stamps the
	// attempt time.
	MarkProcessing(ctx context.Context, symbol string, now time.Time) error

	// MarkSuccess transitions symbol to success, advancing the synced date
	// and bookkeeping counters and clearing any error text.
	MarkSuccess(ctx context.Context, symbol string, lastSynced, lastRecord time.Time, rows int64) error

	// MarkFailed transitions symbol to failed with the causing error text
	// and bumps the retry counter.
	MarkFailed(ctx context.Context, symbol string, errMsg string, now time.Time) error

	// ResetFailed flips failed records back to pending and zeroes their
	// retry counters, returning how many were reset.
	ResetFailed(ctx context.Context) (int, error)

	Close() error
}
