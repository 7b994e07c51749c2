package util

import "time"

// A-share trading sessions, in minutes since midnight. The exchange prints
// an opening tick at 09:30 which belongs to the 09:31 bucket; regular minute
// bars run 09:31-11:30 and 13:00-15:00.
const (
	OpeningPrintMinute = 9*60 + 30  // 09:30
	MorningOpenMinute  = 9*60 + 31  // 09:31
	MorningCloseMinute = 11*60 + 30 // 11:30
	AfternoonOpenMin   = 13 * 60    // 13:00
	SessionCloseMinute = 15 * 60    // 15:00
)

// MinuteOfDay returns t's minute offset since midnight in t's location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// InTradingWindow reports whether t falls inside the exchange trading-hours
// envelope: [09:30, 11:30] or [13:00, 15:00]. The lunch gap is outside.
func InTradingWindow(t time.Time) bool {
	m := MinuteOfDay(t)
	if m >= OpeningPrintMinute && m <= MorningCloseMinute {
		return true
	}
	return m >= AfternoonOpenMin && m <= SessionCloseMinute
}

// IsMorning reports whether t belongs to the morning half-session. Bars at
// or before the lunch boundary count as morning.
func IsMorning(t time.Time) bool {
	return MinuteOfDay(t) <= 12*60
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// AfterClose reports whether t is past the daily settlement time (15:30),
// i.e. whether today's data is complete enough to download.
func AfterClose(t time.Time) bool {
	return MinuteOfDay(t) >= 15*60+30
}
