// Package acquire composes the three acquisition tiers into a single
// fallback chain: primary feed, HTTP fetch with header rotation, then the
// headless-browser fallback. Every tier failure, soft or hard, converts to
// a fallback trigger; an error escapes only when all tiers are exhausted.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"minbar/internal/config"
	"minbar/internal/domain"
	"minbar/internal/fetch"
	"minbar/internal/parse"
)

// minValidRows is the smallest parsed series accepted as a usable result.
const minValidRows = 1

// PrimaryFeed is the TCP quote-feed tier.
type PrimaryFeed interface {
	FetchBars(ctx context.Context, symbol string, segment domain.Segment, days int) ([]domain.Bar, bool)
}

// Fetcher is the HTTP tier.
type Fetcher interface {
	Fetch(ctx context.Context, url, endpointType string) ([]byte, error)
}

// Renderer is the browser fallback tier.
type Renderer interface {
	Enabled() bool
	Render(ctx context.Context, url string) ([]byte, error)
}

// Orchestrator drives the tier chain for one symbol at a time. It holds no
// ledger state; callers own persistence of the outcome.
type Orchestrator struct {
	cfg     *config.Config
	feed    PrimaryFeed
	fetcher Fetcher
	browser Renderer
	log     *slog.Logger
}

// New assembles an orchestrator over the three tiers. feed may be nil when
// the primary tier is not deployed.
func New(cfg *config.Config, feed PrimaryFeed, fetcher Fetcher, browser Renderer, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		feed:    feed,
		fetcher: fetcher,
		browser: browser,
		log:     log.With("component", "orchestrator"),
	}
}

// Acquire fetches days of 1-minute bars for symbol, trying each tier in
// strict order and returning the first valid non-empty result together with
// the tier that produced it.
func (o *Orchestrator) Acquire(ctx context.Context, symbol string, segment domain.Segment, days int) ([]domain.Bar, domain.Tier, error) {
	if bars, ok := o.tryPrimary(ctx, symbol, segment, days); ok {
		return bars, domain.TierPrimary, nil
	}

	endpointType := endpointTypeFor(segment)
	url := o.cfg.BuildURL(endpointType, days, segment.SecID(symbol), callbackToken())

	bars, httpErr := o.tryHTTP(ctx, symbol, url, endpointType)
	if httpErr == nil {
		return bars, domain.TierHTTP, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	bars, browserErr := o.tryBrowser(ctx, symbol, url)
	if browserErr == nil {
		return bars, domain.TierBrowser, nil
	}

	return nil, "", fmt.Errorf("acquire: all tiers exhausted for %s: http: %w; browser: %s", symbol, httpErr, browserErr)
}

// tryPrimary runs the feed tier. Sector indices and a nil feed skip it.
func (o *Orchestrator) tryPrimary(ctx context.Context, symbol string, segment domain.Segment, days int) ([]domain.Bar, bool) {
	if o.feed == nil {
		return nil, false
	}

	start := time.Now()
	bars, ok := o.feed.FetchBars(ctx, symbol, segment, days)

	outcome := domain.OutcomeOK
	if !ok {
		outcome = domain.OutcomeEmpty
	} else if err := parse.Validate(bars, minValidRows); err != nil {
		o.log.Warn("primary feed result rejected", "symbol", symbol, "error", err)
		outcome = domain.OutcomeError
		ok = false
	}
	o.logAttempt(symbol, domain.FetchAttempt{
		Tier:    domain.TierPrimary,
		Elapsed: time.Since(start),
		Outcome: outcome,
	})
	if !ok {
		return nil, false
	}
	return bars, true
}

// tryHTTP runs the HTTP tier and parses the payload. A challenge page has
// already bypassed the tier's retry budget inside the fetch client; here it
// simply converts to an escalation like any other failure.
func (o *Orchestrator) tryHTTP(ctx context.Context, symbol, url, endpointType string) ([]domain.Bar, error) {
	start := time.Now()
	raw, err := o.fetcher.Fetch(ctx, url, endpointType)
	if err != nil {
		o.logAttempt(symbol, domain.FetchAttempt{
			Tier:    domain.TierHTTP,
			URL:     url,
			Elapsed: time.Since(start),
			Outcome: classify(err),
		})
		return nil, err
	}

	bars, err := o.parsePayload(symbol, raw)
	o.logAttempt(symbol, domain.FetchAttempt{
		Tier:    domain.TierHTTP,
		URL:     url,
		Elapsed: time.Since(start),
		Outcome: classify(err),
	})
	return bars, err
}

// tryBrowser runs the last-resort tier.
func (o *Orchestrator) tryBrowser(ctx context.Context, symbol, url string) ([]domain.Bar, error) {
	if o.browser == nil || !o.browser.Enabled() {
		return nil, errors.New("browser tier disabled")
	}

	start := time.Now()
	raw, err := o.browser.Render(ctx, url)
	if err != nil {
		o.logAttempt(symbol, domain.FetchAttempt{
			Tier:    domain.TierBrowser,
			URL:     url,
			Elapsed: time.Since(start),
			Outcome: classify(err),
		})
		return nil, err
	}

	bars, err := o.parsePayload(symbol, raw)
	o.logAttempt(symbol, domain.FetchAttempt{
		Tier:    domain.TierBrowser,
		URL:     url,
		Elapsed: time.Since(start),
		Outcome: classify(err),
	})
	return bars, err
}

// parsePayload decodes and validates a raw http/browser body.
func (o *Orchestrator) parsePayload(symbol string, raw []byte) ([]domain.Bar, error) {
	bars, err := parse.Parse(symbol, raw, true)
	if err != nil {
		return nil, err
	}
	if err := parse.Validate(bars, minValidRows); err != nil {
		return nil, err
	}
	return bars, nil
}

// logAttempt emits per-tier telemetry. Attempts are logged, never stored.
func (o *Orchestrator) logAttempt(symbol string, a domain.FetchAttempt) {
	if a.Outcome == domain.OutcomeOK {
		o.log.Info("tier attempt", "symbol", symbol, "tier", a.Tier, "outcome", a.Outcome, "elapsed", a.Elapsed)
		return
	}
	o.log.Warn("tier attempt", "symbol", symbol, "tier", a.Tier, "outcome", a.Outcome, "elapsed", a.Elapsed, "url", a.URL)
}

// classify maps an error to the outcome enum driving fallback decisions.
func classify(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeOK
	case errors.Is(err, fetch.ErrChallengePage):
		return domain.OutcomeChallenge
	case errors.Is(err, parse.ErrNoData),
		errors.Is(err, parse.ErrEmptyPayload),
		errors.Is(err, fetch.ErrShortBody),
		errors.Is(err, fetch.ErrEmptyRender):
		return domain.OutcomeEmpty
	default:
		return domain.OutcomeError
	}
}

// endpointTypeFor picks the endpoint/header-pool type for a segment.
func endpointTypeFor(segment domain.Segment) string {
	if segment == domain.SegmentSector {
		return config.EndpointBoard1mDays
	}
	return config.EndpointStock1mDays
}

// callbackToken fabricates a fresh JSONP callback name per request, shaped
// like the browser library's own tokens.
func callbackToken() string {
	return fmt.Sprintf("jQuery%d_%d", 351000000000000000+rand.Int64N(1000000000000000), time.Now().UnixMilli())
}
