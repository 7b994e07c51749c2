package resample

import (
	"testing"
	"time"

	"minbar/internal/domain"
)

// session returns a full day of 1-minute bars for 2024-06-14: 09:31-11:30
// and 13:00-15:00, 240 bars. Prices ramp by one cent per bar so first/last
// per bucket are easy to assert; every bar trades 10 lots.
func session(t *testing.T) []domain.Bar {
	t.Helper()
	var bars []domain.Bar
	add := func(from, to time.Time) {
		for ts := from; !ts.After(to); ts = ts.Add(time.Minute) {
			i := float64(len(bars))
			bars = append(bars, domain.Bar{
				Symbol:    "600000",
				Timestamp: ts,
				Open:      10 + i/100,
				Close:     10.01 + i/100,
				High:      10.02 + i/100,
				Low:       9.99 + i/100,
				Volume:    10,
				Turnover:  1000,
			})
		}
	}
	day := time.Date(2024, 6, 14, 0, 0, 0, 0, time.Local)
	add(day.Add(9*time.Hour+31*time.Minute), day.Add(11*time.Hour+30*time.Minute))
	add(day.Add(13*time.Hour), day.Add(15*time.Hour))
	if len(bars) != 241 {
		t.Fatalf("fixture has %d bars, want 241", len(bars))
	}
	return bars
}

func at(t *testing.T, day time.Time, hhmm string) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("15:04", hhmm, time.Local)
	if err != nil {
		t.Fatal(err)
	}
	return day.Add(time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute)
}

func labels(bars []domain.Bar) []string {
	out := make([]string, len(bars))
	for i, b := range bars {
		out[i] = b.Timestamp.Format("15:04")
	}
	return out
}

func TestResampleMorning60mYieldsTwoBuckets(t *testing.T) {
	day := time.Date(2024, 6, 14, 0, 0, 0, 0, time.Local)
	bars := session(t)

	out, err := Resample(bars, domain.Interval60m)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}

	var morning []domain.Bar
	for _, b := range out {
		if b.Timestamp.Hour() < 12 {
			morning = append(morning, b)
		}
	}
	if len(morning) != 2 {
		t.Fatalf("morning buckets = %v, want exactly two", labels(morning))
	}
	if !morning[0].Timestamp.Equal(at(t, day, "10:30")) {
		t.Errorf("first morning bucket at %s, want 10:30", morning[0].Timestamp.Format("15:04"))
	}
	if !morning[1].Timestamp.Equal(at(t, day, "11:30")) {
		t.Errorf("second morning bucket at %s, want 11:30", morning[1].Timestamp.Format("15:04"))
	}

	// 90-minute bucket holds 60 trading minutes (09:31-10:30), the
	// 60-minute bucket the remaining 60.
	if morning[0].Volume != 600 {
		t.Errorf("first bucket volume = %d, want 600", morning[0].Volume)
	}
	if morning[1].Volume != 600 {
		t.Errorf("second bucket volume = %d, want 600", morning[1].Volume)
	}
}

func TestResampleAfternoon60m(t *testing.T) {
	day := time.Date(2024, 6, 14, 0, 0, 0, 0, time.Local)
	out, err := Resample(session(t), domain.Interval60m)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}

	var afternoon []domain.Bar
	for _, b := range out {
		if b.Timestamp.Hour() >= 12 {
			afternoon = append(afternoon, b)
		}
	}
	if len(afternoon) != 2 {
		t.Fatalf("afternoon buckets = %v, want two", labels(afternoon))
	}
	if !afternoon[0].Timestamp.Equal(at(t, day, "14:00")) || !afternoon[1].Timestamp.Equal(at(t, day, "15:00")) {
		t.Errorf("afternoon buckets = %v, want [14:00 15:00]", labels(afternoon))
	}
}

func TestResample15m(t *testing.T) {
	out, err := Resample(session(t), domain.Interval15m)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}

	// Morning 09:31-11:30 spans edges 09:45..11:30 (8 buckets), afternoon
	// 13:00-15:00 spans 13:00 plus 13:15..15:00 (9 buckets).
	if len(out) != 17 {
		t.Fatalf("got %d buckets: %v", len(out), labels(out))
	}
	first := out[0]
	if got := first.Timestamp.Format("15:04"); got != "09:45" {
		t.Errorf("first bucket at %s, want 09:45", got)
	}
	// 09:31-09:45 is 15 constituent bars.
	if first.Volume != 150 {
		t.Errorf("first bucket volume = %d, want 150", first.Volume)
	}
}

func TestResample120mOneBucketPerHalfSession(t *testing.T) {
	day := time.Date(2024, 6, 14, 0, 0, 0, 0, time.Local)
	out, err := Resample(session(t), domain.Interval120m)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d buckets, want 2: %v", len(out), labels(out))
	}
	if !out[0].Timestamp.Equal(at(t, day, "11:30")) || !out[1].Timestamp.Equal(at(t, day, "15:00")) {
		t.Errorf("buckets = %v, want [11:30 15:00]", labels(out))
	}
	if out[0].Volume != 1200 || out[1].Volume != 1210 {
		t.Errorf("volumes = %d/%d, want 1200/1210", out[0].Volume, out[1].Volume)
	}
}

func TestResampleDailyOpenCloseProperty(t *testing.T) {
	bars := session(t)

	// Add a second, shorter day out of order.
	day2 := time.Date(2024, 6, 17, 0, 0, 0, 0, time.Local)
	extra := []domain.Bar{
		{Symbol: "600000", Timestamp: at(t, day2, "09:32"), Open: 20.1, Close: 20.2, High: 20.3, Low: 20.0, Volume: 5, Turnover: 500},
		{Symbol: "600000", Timestamp: at(t, day2, "09:31"), Open: 20.0, Close: 20.1, High: 20.2, Low: 19.9, Volume: 5, Turnover: 500},
	}
	out, err := Resample(append(extra, bars...), domain.IntervalDaily)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("got %d daily bars, want 2", len(out))
	}

	d1, d2 := out[0], out[1]
	if got := d1.Timestamp.Format("2006-01-02 15:04"); got != "2024-06-14 15:00" {
		t.Errorf("first daily bar at %s, want 2024-06-14 15:00", got)
	}
	if d1.Open != bars[0].Open {
		t.Errorf("daily open = %v, want first 1m open %v", d1.Open, bars[0].Open)
	}
	if d1.Close != bars[len(bars)-1].Close {
		t.Errorf("daily close = %v, want last 1m close %v", d1.Close, bars[len(bars)-1].Close)
	}
	if d2.Open != 20.0 || d2.Close != 20.2 {
		t.Errorf("second day open/close = %v/%v, want 20.0/20.2", d2.Open, d2.Close)
	}
	if d2.Volume != 10 {
		t.Errorf("second day volume = %d, want 10", d2.Volume)
	}
}

func TestResampleDropsEmptyBuckets(t *testing.T) {
	// A lone afternoon bar must not produce morning buckets.
	bars := []domain.Bar{{
		Symbol:    "600000",
		Timestamp: time.Date(2024, 6, 14, 14, 30, 0, 0, time.Local),
		Open:      10, Close: 10, High: 10, Low: 10, Volume: 1, Turnover: 100,
	}}
	out, err := Resample(bars, domain.Interval60m)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d buckets, want 1: %v", len(out), labels(out))
	}
	if got := out[0].Timestamp.Format("15:04"); got != "15:00" {
		t.Errorf("bucket at %s, want 15:00", got)
	}
}

func TestResampleUnsupportedInterval(t *testing.T) {
	if _, err := Resample(session(t), domain.Interval("7m")); err == nil {
		t.Error("Resample accepted an unsupported interval")
	}
}

func TestResampleEmptyInput(t *testing.T) {
	out, err := Resample(nil, domain.Interval15m)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if out != nil {
		t.Errorf("got %v, want nil", out)
	}
}
