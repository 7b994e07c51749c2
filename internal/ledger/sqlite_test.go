package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"minbar/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestSeedAndGet(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()

	created, err := s.Seed(ctx, []string{"600000", "000001"}, domain.SegmentEquity)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}

	rec, err := s.Get(ctx, "600000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != domain.StatusPending {
		t.Errorf("status = %q, want pending", rec.Status)
	}
	if !rec.LastSynced.IsZero() {
		t.Errorf("fresh record has last_synced %v", rec.LastSynced)
	}

	// Re-seeding must not clobber existing records.
	if err := s.MarkSuccess(ctx, "600000", day(2024, 6, 14), day(2024, 6, 14), 240); err != nil {
		t.Fatalf("MarkSuccess: %v", err)
	}
	created, err = s.Seed(ctx, []string{"600000", "600519"}, domain.SegmentEquity)
	if err != nil {
		t.Fatalf("Seed again: %v", err)
	}
	if created != 1 {
		t.Errorf("re-seed created = %d, want 1", created)
	}
	rec, _ = s.Get(ctx, "600000")
	if rec.Status != domain.StatusSuccess {
		t.Errorf("re-seed reset status to %q", rec.Status)
	}
}

func TestTransitions(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()
	now := day(2024, 6, 14).Add(15*time.Hour + 40*time.Minute)

	if _, err := s.Seed(ctx, []string{"600000"}, domain.SegmentEquity); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if err := s.MarkProcessing(ctx, "600000", now); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	rec, _ := s.Get(ctx, "600000")
	if rec.Status != domain.StatusProcessing {
		t.Fatalf("status = %q, want processing", rec.Status)
	}
	if rec.LastAttempt.IsZero() {
		t.Error("MarkProcessing did not stamp last_attempt")
	}

	if err := s.MarkSuccess(ctx, "600000", day(2024, 6, 14), now.Add(-40*time.Minute), 240); err != nil {
		t.Fatalf("MarkSuccess: %v", err)
	}
	rec, _ = s.Get(ctx, "600000")
	if rec.Status != domain.StatusSuccess {
		t.Errorf("status = %q, want success", rec.Status)
	}
	if !rec.LastSynced.Equal(day(2024, 6, 14)) {
		t.Errorf("last_synced = %v, want 2024-06-14", rec.LastSynced)
	}
	if rec.RowCount != 240 {
		t.Errorf("row_count = %d, want 240", rec.RowCount)
	}
	if rec.Error != "" {
		t.Errorf("success record still carries error %q", rec.Error)
	}
}

func TestMarkFailedKeepsCause(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()

	s.Seed(ctx, []string{"600000"}, domain.SegmentEquity)
	if err := s.MarkFailed(ctx, "600000", "all tiers exhausted: http: status 403", day(2024, 6, 14)); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	rec, _ := s.Get(ctx, "600000")
	if rec.Status != domain.StatusFailed {
		t.Errorf("status = %q, want failed", rec.Status)
	}
	if rec.Error == "" || rec.Error == "failed" {
		t.Errorf("error = %q, want the specific cause", rec.Error)
	}
	if rec.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", rec.RetryCount)
	}
}

func TestPendingSelection(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()
	today := day(2024, 6, 14)

	s.Seed(ctx, []string{"000001", "600000", "600519", "688001"}, domain.SegmentEquity)

	// 600000 is up to date, 600519 failed yesterday, 688001 is excluded.
	s.MarkSuccess(ctx, "600000", today, today, 240)
	s.MarkFailed(ctx, "600519", "status 403", today)
	rec, _ := s.Get(ctx, "688001")
	rec.Status = domain.StatusExcluded
	s.Put(ctx, rec)

	pending, err := s.Pending(ctx, today)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}

	got := map[string]bool{}
	for _, r := range pending {
		got[r.Symbol] = true
	}
	if !got["000001"] {
		t.Error("fresh pending record not selected")
	}
	if !got["600519"] {
		t.Error("failed record not picked up on next run")
	}
	if got["600000"] {
		t.Error("up-to-date success record selected")
	}
	if got["688001"] {
		t.Error("excluded record selected")
	}

	// The next trading day, the synced symbol qualifies again.
	pending, err = s.Pending(ctx, day(2024, 6, 17))
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	found := false
	for _, r := range pending {
		if r.Symbol == "600000" {
			found = true
		}
		if r.Symbol == "688001" {
			t.Error("excluded record selected on renew")
		}
	}
	if !found {
		t.Error("stale success record not re-selected for daily renew")
	}
}

func TestResetFailed(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()

	s.Seed(ctx, []string{"600000", "600519"}, domain.SegmentEquity)
	s.MarkFailed(ctx, "600000", "boom", day(2024, 6, 14))

	n, err := s.ResetFailed(ctx)
	if err != nil {
		t.Fatalf("ResetFailed: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d records, want 1", n)
	}
	rec, _ := s.Get(ctx, "600000")
	if rec.Status != domain.StatusPending || rec.RetryCount != 0 {
		t.Errorf("reset record = %+v, want pending with zero retries", rec)
	}
}

func TestTransitionUnknownSymbol(t *testing.T) {
	s := testStore(t)
	if err := s.MarkProcessing(t.Context(), "999999", day(2024, 6, 14)); err == nil {
		t.Error("MarkProcessing succeeded for an untracked symbol")
	}
}
