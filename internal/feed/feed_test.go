package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"minbar/internal/config"
	"minbar/internal/domain"
	"minbar/internal/util"
)

// fakeConn serves a fixed history of bars, newest-first pagination like the
// real feed: offset 0 is the most recent bar.
type fakeConn struct {
	bars    []domain.Bar
	queries int
	failAt  int // query index that returns an error, -1 to disable
	closed  bool
}

func (f *fakeConn) QueryBars(ctx context.Context, symbol string, market, offset, count int) ([]domain.Bar, error) {
	defer func() { f.queries++ }()
	if f.failAt >= 0 && f.queries == f.failAt {
		return nil, errors.New("wire error")
	}
	if offset >= len(f.bars) {
		return nil, nil
	}
	end := min(offset+count, len(f.bars))
	return f.bars[offset:end], nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func history(n int) []domain.Bar {
	base := time.Date(2024, 6, 14, 9, 31, 0, 0, time.Local)
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol:    "600000",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      10, Close: 10, High: 10, Low: 10,
			Volume: int64(i + 1),
		}
	}
	return bars
}

func testFeedConfig() config.Feed {
	return config.Feed{
		Servers:        []string{"one:7709", "two:7709"},
		ConnectTimeout: time.Second,
		MaxRowsPerCall: 800,
		RowsPerDay:     240,
	}
}

func dialerFor(conn Conn, failFirst bool) Dialer {
	var calls int
	return func(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
		calls++
		if failFirst && calls == 1 {
			return nil, fmt.Errorf("dial %s: refused", addr)
		}
		return conn, nil
	}
}

func TestFetchBarsSingleWindow(t *testing.T) {
	conn := &fakeConn{bars: history(240), failAt: -1}
	c := NewClient(testFeedConfig(), dialerFor(conn, false), util.NewLogger("error"))

	bars, ok := c.FetchBars(t.Context(), "600000", domain.SegmentEquity, 1)
	if !ok {
		t.Fatal("FetchBars reported failure on a healthy server")
	}
	if len(bars) != 240 {
		t.Errorf("got %d bars, want 240", len(bars))
	}
	if conn.queries != 1 {
		t.Errorf("issued %d queries, want 1 (240 rows fit one window)", conn.queries)
	}
	if !conn.closed {
		t.Error("connection not closed")
	}
}

func TestFetchBarsPagesThroughRowCeiling(t *testing.T) {
	// 5 days at 240 rows/day is 1200 rows: two windows of 800 and 400.
	conn := &fakeConn{bars: history(1200), failAt: -1}
	c := NewClient(testFeedConfig(), dialerFor(conn, false), util.NewLogger("error"))

	bars, ok := c.FetchBars(t.Context(), "600000", domain.SegmentEquity, 5)
	if !ok {
		t.Fatal("FetchBars reported failure")
	}
	if len(bars) != 1200 {
		t.Errorf("got %d bars, want 1200", len(bars))
	}
	if conn.queries != 2 {
		t.Errorf("issued %d queries, want 2", conn.queries)
	}
}

func TestFetchBarsSortedAndDeduplicated(t *testing.T) {
	bars := history(10)
	// Overlap a window boundary: repeat a bar and shuffle order.
	bars = append(bars, bars[3])
	bars[0], bars[5] = bars[5], bars[0]

	conn := &fakeConn{bars: bars, failAt: -1}
	c := NewClient(testFeedConfig(), dialerFor(conn, false), util.NewLogger("error"))

	got, ok := c.FetchBars(t.Context(), "600000", domain.SegmentEquity, 1)
	if !ok {
		t.Fatal("FetchBars reported failure")
	}
	if len(got) != 10 {
		t.Fatalf("got %d bars after dedup, want 10", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Timestamp.Before(got[i].Timestamp) {
			t.Fatalf("bars not strictly increasing at %d: %v >= %v",
				i, got[i-1].Timestamp, got[i].Timestamp)
		}
	}
}

func TestFetchBarsSkipsSectorIndices(t *testing.T) {
	dialed := false
	dialer := func(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
		dialed = true
		return nil, errors.New("should not dial")
	}
	c := NewClient(testFeedConfig(), dialer, util.NewLogger("error"))

	if _, ok := c.FetchBars(t.Context(), "BK0475", domain.SegmentSector, 1); ok {
		t.Error("FetchBars served a sector index over the quote feed")
	}
	if dialed {
		t.Error("FetchBars dialed for a sector index")
	}
}

func TestFetchBarsFallsOverToNextServer(t *testing.T) {
	conn := &fakeConn{bars: history(240), failAt: -1}
	c := NewClient(testFeedConfig(), dialerFor(conn, true), util.NewLogger("error"))

	if _, ok := c.FetchBars(t.Context(), "600000", domain.SegmentEquity, 1); !ok {
		t.Error("FetchBars failed despite a reachable second server")
	}
}

func TestFetchBarsSoftFailsOnWireError(t *testing.T) {
	conn := &fakeConn{bars: history(240), failAt: 0}
	c := NewClient(testFeedConfig(), dialerFor(conn, false), util.NewLogger("error"))

	if _, ok := c.FetchBars(t.Context(), "600000", domain.SegmentEquity, 1); ok {
		t.Error("FetchBars reported success on a wire error")
	}
}

func TestFetchBarsSoftFailsWhenNoServerReachable(t *testing.T) {
	dialer := func(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
		return nil, errors.New("refused")
	}
	c := NewClient(testFeedConfig(), dialer, util.NewLogger("error"))

	if _, ok := c.FetchBars(t.Context(), "600000", domain.SegmentEquity, 1); ok {
		t.Error("FetchBars reported success with no reachable server")
	}
}
