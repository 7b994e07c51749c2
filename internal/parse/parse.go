// Package parse turns raw upstream payloads into typed bars. The upstream
// serves JSONP or bare JSON with the row array under one of several envelope
// keys; rows are comma-separated strings. The parser also applies the
// exchange's opening-print rule, folding the 09:30 auction tick into the
// 09:31 bar.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"minbar/internal/domain"
	"minbar/internal/util"
)

var (
	// ErrNoData is the upstream's explicit "no data for this query" answer:
	// a null data payload together with a non-zero status code.
	ErrNoData = errors.New("parse: upstream reports no data for this query")

	// ErrEmptyPayload means the envelope decoded but no candidate key held
	// a non-empty row list.
	ErrEmptyPayload = errors.New("parse: no rows under any known envelope key")
)

// jsonpWrapper matches the callback wrapper the upstream puts around JSON
// payloads, e.g. jQuery35105123456789_1700000000000({...});
var jsonpWrapper = regexp.MustCompile(`(?s)jQuery\d+_\d+\((.*)\)`)

// rowLayout is the timestamp format of upstream rows, in exchange-local time.
const rowLayout = "2006-01-02 15:04"

// envelope is the common upstream response shape. A null Data with a
// non-zero RC is the documented no-data answer.
type envelope struct {
	RC   int             `json:"rc"`
	Data json.RawMessage `json:"data"`
}

// payload covers every known placement of the row array. Extractors below
// probe its fields in a fixed order.
type payload struct {
	Klines []string `json:"klines"`
	Trends []string `json:"trends"`
	Data   []string `json:"data"`
	List   []string `json:"list"`
	Code   string   `json:"code"`
	Market int      `json:"market"`
}

// extractors are tried in order; the first non-empty list wins.
var extractors = []struct {
	key  string
	rows func(p *payload) []string
}{
	{"klines", func(p *payload) []string { return p.Klines }},
	{"trends", func(p *payload) []string { return p.Trends }},
	{"data", func(p *payload) []string { return p.Data }},
	{"list", func(p *payload) []string { return p.List }},
}

// Parse decodes a raw upstream body into 1-minute bars for symbol. When
// jsonp is set the callback wrapper is stripped first; a payload that was
// never wrapped parses identically. Rows are sorted ascending, deduplicated
// on timestamp, and the opening print is merged into the first regular bar
// of each day.
func Parse(symbol string, raw []byte, jsonp bool) ([]domain.Bar, error) {
	body := raw
	if jsonp {
		body = stripWrapper(raw)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse: decoding envelope: %w (body %q)", err, fragment(body))
	}

	if isNull(env.Data) {
		if env.RC != 0 {
			return nil, fmt.Errorf("%w (rc=%d)", ErrNoData, env.RC)
		}
		return nil, fmt.Errorf("parse: null data with rc=0 (body %q)", fragment(body))
	}

	var p payload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nil, fmt.Errorf("parse: decoding data payload: %w (body %q)", err, fragment(env.Data))
	}

	rows := selectRows(&p)
	if rows == nil {
		return nil, ErrEmptyPayload
	}

	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := parseRow(symbol, row)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}

	return mergeOpeningPrints(sortDedupe(bars)), nil
}

// stripWrapper removes a JSONP callback wrapper if present. A body without
// one passes through untouched, so callers need not know whether the
// upstream honored the callback parameter.
func stripWrapper(raw []byte) []byte {
	m := jsonpWrapper.FindSubmatch(raw)
	if m == nil {
		return raw
	}
	return m[1]
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

// selectRows probes the candidate keys in order and returns the first
// non-empty row list, or nil when none matched.
func selectRows(p *payload) []string {
	for _, ex := range extractors {
		if rows := ex.rows(p); len(rows) > 0 {
			return rows
		}
	}
	return nil
}

// parseRow converts one upstream CSV row to a Bar. Row shape is
// "date time,open,close,high,low,volume,turnover" with an optional eighth
// column (average price) that is ignored. Upstream volume is in hands and
// is scaled by 100 into share lots.
func parseRow(symbol, row string) (domain.Bar, error) {
	fields := strings.Split(row, ",")
	if len(fields) != 7 && len(fields) != 8 {
		return domain.Bar{}, fmt.Errorf("parse: row has %d fields, want 7 or 8 (row %q)", len(fields), fragment([]byte(row)))
	}

	ts, err := time.ParseInLocation(rowLayout, fields[0], time.Local)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parse: row timestamp: %w (row %q)", err, fragment([]byte(row)))
	}

	var prices [4]float64
	for i, name := range []string{"open", "close", "high", "low"} {
		prices[i], err = strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("parse: row %s: %w (row %q)", name, err, fragment([]byte(row)))
		}
	}

	volume, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parse: row volume: %w (row %q)", err, fragment([]byte(row)))
	}
	turnover, err := strconv.ParseFloat(fields[6], 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parse: row turnover: %w (row %q)", err, fragment([]byte(row)))
	}

	return domain.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      prices[0],
		Close:     prices[1],
		High:      prices[2],
		Low:       prices[3],
		Volume:    int64(volume * 100),
		Turnover:  turnover,
	}, nil
}

// sortDedupe orders bars ascending by timestamp and drops duplicates,
// keeping the first occurrence, so downstream consumers can rely on a
// strictly increasing series.
func sortDedupe(bars []domain.Bar) []domain.Bar {
	if len(bars) < 2 {
		return bars
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	out := bars[:1]
	for _, b := range bars[1:] {
		if !b.Timestamp.Equal(out[len(out)-1].Timestamp) {
			out = append(out, b)
		}
	}
	return out
}

// mergeOpeningPrints folds each day's 09:30 auction row into the following
// 09:31 bar: the 09:31 timestamp and open are kept, volume and turnover are
// summed, and high/low are extended across both rows. Applied per calendar
// day so multi-day payloads behave like concatenated single days.
func mergeOpeningPrints(bars []domain.Bar) []domain.Bar {
	out := bars[:0]
	for i := 0; i < len(bars); i++ {
		b := bars[i]
		if util.MinuteOfDay(b.Timestamp) == util.OpeningPrintMinute && i+1 < len(bars) {
			next := bars[i+1]
			sameDay := util.DateOf(b.Timestamp).Equal(util.DateOf(next.Timestamp))
			if sameDay && util.MinuteOfDay(next.Timestamp) == util.MorningOpenMinute {
				next.High = max(next.High, b.High)
				next.Low = min(next.Low, b.Low)
				next.Volume += b.Volume
				next.Turnover += b.Turnover
				out = append(out, next)
				i++
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// Validate checks a parsed series before it is accepted: at least minRows
// bars, required fields populated, and every timestamp inside the exchange
// trading envelope.
func Validate(bars []domain.Bar, minRows int) error {
	if len(bars) < minRows {
		return fmt.Errorf("parse: %d bars, want at least %d", len(bars), minRows)
	}
	for _, b := range bars {
		if b.Symbol == "" || b.Timestamp.IsZero() {
			return fmt.Errorf("parse: bar missing required fields: %+v", b)
		}
		if b.Volume < 0 || b.Turnover < 0 {
			return fmt.Errorf("parse: negative volume or turnover at %s", b.Timestamp.Format(rowLayout))
		}
		if !util.InTradingWindow(b.Timestamp) {
			return fmt.Errorf("parse: bar at %s outside trading hours", b.Timestamp.Format(rowLayout))
		}
	}
	return nil
}

// fragment truncates a body for inclusion in error messages.
func fragment(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
