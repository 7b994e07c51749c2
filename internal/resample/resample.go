// Package resample aggregates 1-minute bars into coarser intervals. The
// exchange trades two half-sessions (09:31-11:30 and 13:00-15:00), so 60m
// and 120m buckets align within each half-session rather than on a fixed
// wall-clock grid: the morning hour split is 90 minutes then 60 minutes.
package resample

import (
	"fmt"
	"sort"
	"time"

	"minbar/internal/domain"
	"minbar/internal/util"
)

// Resample aggregates a 1-minute series into the target interval. Input
// need not be sorted; output is sorted ascending and deduplicated on
// timestamp. Buckets with no constituent rows are dropped, never
// synthesized.
func Resample(bars []domain.Bar, interval domain.Interval) ([]domain.Bar, error) {
	if len(bars) == 0 {
		return nil, nil
	}

	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var key func(domain.Bar) time.Time
	switch interval {
	case domain.Interval15m:
		key = gridKey(15)
	case domain.Interval30m:
		key = gridKey(30)
	case domain.Interval60m:
		key = sessionHourKey
	case domain.Interval120m:
		key = halfSessionKey
	case domain.IntervalDaily:
		key = dailyKey
	default:
		return nil, fmt.Errorf("resample: unsupported interval %q", interval)
	}

	return aggregate(sorted, key), nil
}

// aggregate folds consecutive bars sharing a bucket key into one output
// bar: first open, last close, max high, min low, summed volume and
// turnover. Input must be sorted; keys are non-decreasing for every
// supported interval, so a single pass suffices.
func aggregate(sorted []domain.Bar, key func(domain.Bar) time.Time) []domain.Bar {
	var out []domain.Bar
	for _, b := range sorted {
		label := key(b)
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(label) {
			cur := &out[n-1]
			cur.Close = b.Close
			cur.High = max(cur.High, b.High)
			cur.Low = min(cur.Low, b.Low)
			cur.Volume += b.Volume
			cur.Turnover += b.Turnover
			continue
		}
		nb := b
		nb.Timestamp = label
		out = append(out, nb)
	}
	return out
}

// gridKey buckets on a right-closed fixed grid of width minutes anchored at
// midnight, labelled by the grid edge the bar falls on or before. A bar at
// exactly an edge belongs to that edge's bucket.
func gridKey(width int) func(domain.Bar) time.Time {
	return func(b domain.Bar) time.Time {
		m := util.MinuteOfDay(b.Timestamp)
		edge := ((m + width - 1) / width) * width
		return util.DateOf(b.Timestamp).Add(time.Duration(edge) * time.Minute)
	}
}

// sessionHourKey implements the per-half-session 60-minute alignment. The
// morning session is 120 trading minutes inside a 150-minute wall-clock
// window, which yields exactly two buckets: a 90-minute bucket ending 10:30
// wall clock (labelled 10:30) and the remainder labelled 11:30. Afternoon
// buckets are plain hours ending 14:00 and 15:00.
func sessionHourKey(b domain.Bar) time.Time {
	m := util.MinuteOfDay(b.Timestamp)
	day := util.DateOf(b.Timestamp)

	var edge int
	switch {
	case m <= 10*60+30:
		edge = 10*60 + 30
	case util.IsMorning(b.Timestamp):
		edge = util.MorningCloseMinute
	case m <= 14*60:
		edge = 14 * 60
	default:
		edge = util.SessionCloseMinute
	}
	return day.Add(time.Duration(edge) * time.Minute)
}

// halfSessionKey buckets each half-session into a single bar, labelled by
// the half-session close.
func halfSessionKey(b domain.Bar) time.Time {
	day := util.DateOf(b.Timestamp)
	if util.IsMorning(b.Timestamp) {
		return day.Add(time.Duration(util.MorningCloseMinute) * time.Minute)
	}
	return day.Add(time.Duration(util.SessionCloseMinute) * time.Minute)
}

// dailyKey buckets by calendar date, labelled at the session close.
func dailyKey(b domain.Bar) time.Time {
	return util.DateOf(b.Timestamp).Add(time.Duration(util.SessionCloseMinute) * time.Minute)
}
