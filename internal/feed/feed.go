// Package feed implements the primary acquisition tier: a TCP quote-feed
// client querying a static pool of known-good servers. It is the cheapest
// tier, with no rate limits or challenge pages, but it serves equities only
// and caps every request at a hard protocol row ceiling.
package feed

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"minbar/internal/config"
	"minbar/internal/domain"
	"minbar/internal/util"
)

// Conn is one live session against a feed server. The wire encoding behind
// it is an external collaborator; this package only depends on typed bars
// coming back.
type Conn interface {
	// QueryBars returns up to count 1-minute bars for the symbol, counting
	// backwards from the most recent bar, skipping the first offset bars.
	QueryBars(ctx context.Context, symbol string, market, offset, count int) ([]domain.Bar, error)
	Close() error
}

// Dialer opens a Conn against addr within timeout.
type Dialer func(ctx context.Context, addr string, timeout time.Duration) (Conn, error)

// feedQueriesPerMinute caps windowed queries against one feed server. The
// feed has no documented rate limit but hammering it gets a session dropped.
const feedQueriesPerMinute = 120

// Client fans a bar request across the configured server list, paging
// through the per-call row ceiling and deduplicating on timestamp.
type Client struct {
	cfg     config.Feed
	dialer  Dialer
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewClient creates a feed client over the given dialer.
func NewClient(cfg config.Feed, dialer Dialer, log *slog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		dialer:  dialer,
		limiter: util.NewRateLimiter(feedQueriesPerMinute),
		log:     log.With("component", "primary_feed"),
	}
}

// FetchBars retrieves days worth of 1-minute bars for symbol. A false
// return means the tier could not serve the request (unreachable servers,
// unsupported segment, or an empty response) and the caller should fall
// back. It is never an error condition.
func (c *Client) FetchBars(ctx context.Context, symbol string, segment domain.Segment, days int) ([]domain.Bar, bool) {
	// Sector indices are not carried on the quote feed.
	if segment == domain.SegmentSector {
		return nil, false
	}

	conn := c.connect(ctx)
	if conn == nil {
		return nil, false
	}
	defer conn.Close()

	market := segment.FeedMarket(symbol)
	total := days * c.cfg.RowsPerDay

	bars, err := c.fetchWindowed(ctx, conn, symbol, market, total)
	if err != nil {
		c.log.Warn("feed query failed", "symbol", symbol, "error", err)
		return nil, false
	}
	if len(bars) == 0 {
		c.log.Info("feed returned no data", "symbol", symbol)
		return nil, false
	}

	c.log.Info("feed fetch succeeded", "symbol", symbol, "rows", len(bars))
	return bars, true
}

// connect tries each server in order and returns the first connection that
// comes up within the configured timeout.
func (c *Client) connect(ctx context.Context) Conn {
	for _, addr := range c.cfg.Servers {
		conn, err := c.dialer(ctx, addr, c.cfg.ConnectTimeout)
		if err != nil {
			c.log.Debug("feed server unreachable", "server", addr, "error", err)
			continue
		}
		c.log.Debug("connected to feed server", "server", addr)
		return conn
	}
	c.log.Warn("no feed server reachable", "servers", len(c.cfg.Servers))
	return nil
}

// fetchWindowed issues successive windowed requests until total rows are
// gathered or the server runs dry, then dedups and sorts the result. The
// protocol ceiling caps each window.
func (c *Client) fetchWindowed(ctx context.Context, conn Conn, symbol string, market, total int) ([]domain.Bar, error) {
	var all []domain.Bar

	for offset := 0; offset < total; offset += c.cfg.MaxRowsPerCall {
		count := min(c.cfg.MaxRowsPerCall, total-offset)

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		window, err := conn.QueryBars(ctx, symbol, market, offset, count)
		if err != nil {
			return nil, err
		}
		if len(window) == 0 {
			break
		}
		all = append(all, window...)

		// The server paged out fewer rows than asked: history exhausted.
		if len(window) < count {
			break
		}
	}

	return dedupe(all), nil
}

// dedupe sorts bars ascending by timestamp and drops duplicate timestamps,
// keeping the first occurrence. Window boundaries can overlap when the
// server's history shifts between calls.
func dedupe(bars []domain.Bar) []domain.Bar {
	if len(bars) == 0 {
		return bars
	}
	sort.Slice(bars, func(i, j int) bool {
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
