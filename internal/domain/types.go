// Package domain defines the core types shared across the minbar pipeline:
// OHLCV bars, download ledger records, and the enums that classify
// acquisition tiers and outcomes.
package domain

import (
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Bars
// ---------------------------------------------------------------------------

// Bar is one OHLCV record with turnover for a fixed time interval. Volume is
// counted in lots (1 lot = 100 shares). Bars are immutable once produced by
// the parser; timestamps are strictly increasing within one symbol's series.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	Close     float64
	High      float64
	Low       float64
	Volume    int64
	Turnover  float64
}

// Interval identifies a bar aggregation interval.
type Interval string

const (
	Interval1m    Interval = "1m"
	Interval15m   Interval = "15m"
	Interval30m   Interval = "30m"
	Interval60m   Interval = "60m"
	Interval120m  Interval = "120m"
	IntervalDaily Interval = "daily"
)

// ---------------------------------------------------------------------------
// Market segments
// ---------------------------------------------------------------------------

// Segment distinguishes equities from sector indices. The two segments use
// different upstream endpoints and secid prefixes.
type Segment string

const (
	SegmentEquity Segment = "equity"
	SegmentSector Segment = "sector"
)

// SecID returns the upstream security identifier for a symbol: sector
// indices use the fixed "90." prefix, equities are prefixed by exchange
// ("1." Shanghai for codes starting 5/6/9, "0." Shenzhen otherwise).
func (s Segment) SecID(symbol string) string {
	if s == SegmentSector {
		return "90." + symbol
	}
	if strings.HasPrefix(symbol, "6") || strings.HasPrefix(symbol, "5") || strings.HasPrefix(symbol, "9") {
		return "1." + symbol
	}
	return "0." + symbol
}

// FeedMarket returns the primary-feed market code for a symbol: 1 for
// Shanghai, 0 for Shenzhen.
func (s Segment) FeedMarket(symbol string) int {
	if strings.HasPrefix(symbol, "6") || strings.HasPrefix(symbol, "5") || strings.HasPrefix(symbol, "9") {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Acquisition tiers and outcomes
// ---------------------------------------------------------------------------

// Tier identifies one of the three acquisition strategies, tried in strict
// fallback order.
type Tier string

const (
	TierPrimary Tier = "primary"
	TierHTTP    Tier = "http"
	TierBrowser Tier = "browser"
)

// Outcome classifies the result of a single fetch attempt. Fallback
// decisions are explicit branches on this value, never recovered panics or
// swallowed errors.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeEmpty     Outcome = "empty"
	OutcomeChallenge Outcome = "challenge"
	OutcomeError     Outcome = "error"
)

// FetchAttempt is transient telemetry for one tier attempt. It is logged,
// never persisted.
type FetchAttempt struct {
	Tier    Tier
	URL     string
	Elapsed time.Duration
	Outcome Outcome
}

// ---------------------------------------------------------------------------
// Download ledger
// ---------------------------------------------------------------------------

// Status is the download-ledger state of one symbol.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	// StatusExcluded is terminal: the symbol is permanently skipped. It is
	// only ever set by an explicit operator action, never by the scheduler.
	StatusExcluded Status = "excluded"
)

// DownloadRecord tracks acquisition progress for one symbol. Records are
// created once at onboarding and only ever transitioned, never deleted.
type DownloadRecord struct {
	Symbol      string
	Segment     Segment
	LastSynced  time.Time // date through which 1m data is persisted
	LastRecord  time.Time // timestamp of the newest bar seen upstream
	Status      Status
	RetryCount  int
	Error       string
	RowCount    int64
	LastAttempt time.Time
}
