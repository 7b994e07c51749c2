// Package batch drives the daily download run: it selects pending ledger
// records, invokes the acquisition chain per symbol with a bounded retry
// budget, persists fresh bars, and transitions ledger state from the
// outcome. One symbol is processed at a time with a pacing delay between
// symbols.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"minbar/internal/config"
	"minbar/internal/domain"
	"minbar/internal/ledger"
	"minbar/internal/resample"
	"minbar/internal/store"
	"minbar/internal/util"
)

// Acquirer is the per-symbol acquisition chain.
type Acquirer interface {
	Acquire(ctx context.Context, symbol string, segment domain.Segment, days int) ([]domain.Bar, domain.Tier, error)
}

// Progress holds live batch counters. Safe for concurrent reads while a run
// is in flight.
type Progress struct {
	mu        sync.Mutex
	Total     int
	Processed int
	Succeeded int
	Failed    int
}

// Snapshot returns a copy of the current counters.
func (p *Progress) Snapshot() (total, processed, succeeded, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Total, p.Processed, p.Succeeded, p.Failed
}

func (p *Progress) start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Total = total
	p.Processed, p.Succeeded, p.Failed = 0, 0, 0
}

func (p *Progress) record(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Processed++
	if ok {
		p.Succeeded++
	} else {
		p.Failed++
	}
}

// Scheduler owns one batch run at a time over the download ledger.
type Scheduler struct {
	cfg      config.Batch
	ledger   ledger.Store
	bars     store.BarStore
	acquirer Acquirer
	log      *slog.Logger
	progress Progress

	// now is the clock, injectable in tests.
	now func() time.Time
}

// NewScheduler assembles a scheduler over the ledger, bar store, and
// acquisition chain.
func NewScheduler(cfg config.Batch, led ledger.Store, bars store.BarStore, acq Acquirer, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		ledger:   led,
		bars:     bars,
		acquirer: acq,
		log:      log.With("component", "scheduler"),
		now:      time.Now,
	}
}

// Progress exposes the live counters for the current or last run.
func (s *Scheduler) Progress() *Progress {
	return &s.progress
}

// Run executes one batch pass over every pending symbol. Cancellation is
// observed between symbols; the symbol in flight always completes so its
// ledger record is never left mid-transition.
func (s *Scheduler) Run(ctx context.Context) error {
	today := util.DateOf(s.now())

	records, err := s.ledger.Pending(ctx, today)
	if err != nil {
		return fmt.Errorf("batch: loading pending records: %w", err)
	}
	s.progress.start(len(records))
	s.log.Info("batch run starting", "pending", len(records), "target", today.Format("2006-01-02"))

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			s.log.Warn("batch run cancelled", "processed", i, "total", len(records))
			return err
		}

		s.processSymbol(ctx, rec, today)

		if i < len(records)-1 {
			if err := util.Sleep(ctx, s.cfg.PaceDelay); err != nil {
				return err
			}
		}
	}

	total, _, succeeded, failed := s.progress.Snapshot()
	s.log.Info("batch run finished", "total", total, "succeeded", succeeded, "failed", failed)
	return nil
}

// processSymbol downloads one symbol inside its retry budget and records
// the outcome on the ledger. All failures end at MarkFailed; nothing
// propagates.
func (s *Scheduler) processSymbol(ctx context.Context, rec domain.DownloadRecord, today time.Time) {
	now := s.now()
	days := s.daysToSync(rec.LastSynced, today)
	log := s.log.With("symbol", rec.Symbol, "segment", rec.Segment)

	if err := s.ledger.MarkProcessing(ctx, rec.Symbol, now); err != nil {
		log.Error("ledger transition failed", "error", err)
		s.progress.record(false)
		return
	}

	var bars []domain.Bar
	var tier domain.Tier
	err := util.RetryLinear(ctx, s.cfg.RetryAttempts, s.cfg.RetryDelay, func() error {
		var aerr error
		bars, tier, aerr = s.acquirer.Acquire(ctx, rec.Symbol, rec.Segment, days)
		return aerr
	})
	if err == nil {
		err = s.persist(ctx, rec, bars)
	}

	if err != nil {
		log.Warn("symbol failed", "days", days, "error", err)
		if lerr := s.ledger.MarkFailed(ctx, rec.Symbol, err.Error(), s.now()); lerr != nil {
			log.Error("ledger transition failed", "error", lerr)
		}
		s.progress.record(false)
		return
	}

	log.Info("symbol synced", "tier", tier, "rows", len(bars), "days", days)
	s.progress.record(true)
}

// persist filters out already-synced rows, writes the fresh 1m series plus
// the derived daily bars, and advances the ledger. An empty fresh set is a
// failure: status never advances to success on empty data.
func (s *Scheduler) persist(ctx context.Context, rec domain.DownloadRecord, bars []domain.Bar) error {
	fresh := filterAfter(bars, rec.LastSynced)
	if len(fresh) == 0 {
		return fmt.Errorf("batch: no rows newer than %s", rec.LastSynced.Format("2006-01-02"))
	}

	if err := s.bars.WriteBars(ctx, domain.Interval1m, fresh); err != nil {
		return fmt.Errorf("batch: persisting 1m bars: %w", err)
	}

	// Sector index daily bars come from a dedicated upstream series, so the
	// derivation only runs for equities.
	if rec.Segment == domain.SegmentEquity {
		daily, err := resample.Resample(fresh, domain.IntervalDaily)
		if err != nil {
			return fmt.Errorf("batch: deriving daily bars: %w", err)
		}
		if err := s.bars.WriteBars(ctx, domain.IntervalDaily, daily); err != nil {
			return fmt.Errorf("batch: persisting daily bars: %w", err)
		}
	}

	lastRecord := fresh[len(fresh)-1].Timestamp
	return s.ledger.MarkSuccess(ctx, rec.Symbol, util.DateOf(lastRecord), lastRecord, int64(len(fresh)))
}

// daysToSync computes how many calendar days to request: enough to cover
// the gap since the last synced date, capped by the per-call window.
func (s *Scheduler) daysToSync(lastSynced, today time.Time) int {
	if lastSynced.IsZero() {
		return s.cfg.MaxDaysPerCall
	}
	gap := int(today.Sub(lastSynced)/(24*time.Hour)) + 1
	if gap < 1 {
		gap = 1
	}
	return min(gap, s.cfg.MaxDaysPerCall)
}

// filterAfter drops bars on or before the already-synced date.
func filterAfter(bars []domain.Bar, lastSynced time.Time) []domain.Bar {
	if lastSynced.IsZero() {
		return bars
	}
	var out []domain.Bar
	for _, b := range bars {
		if util.DateOf(b.Timestamp).After(lastSynced) {
			out = append(out, b)
		}
	}
	return out
}
