package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"minbar/internal/config"
	"minbar/internal/util"
)

// Classified fetch failures. Challenge pages escalate straight to the next
// acquisition tier; short bodies are soft failures.
var (
	ErrChallengePage = errors.New("fetch: upstream served a challenge page instead of data")
	ErrShortBody     = errors.New("fetch: response body below minimum length")
)

// Client is the HTTP acquisition tier. It draws header profiles from
// per-endpoint pools, paces requests with a randomized pre-request delay,
// and retries transient transport failures with exponential backoff.
type Client struct {
	hc    *http.Client
	cfg   config.HTTP
	pools map[string]*HeaderPool
	log   *slog.Logger
}

// NewClient builds the HTTP tier from config. One HeaderPool is created per
// configured endpoint type; pools live for the process lifetime.
func NewClient(cfg config.HTTP, headers config.Headers, log *slog.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		// The upstream occasionally serves stale certificates; data is public.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		// Profiles advertise Accept-Encoding themselves; decoding is explicit
		// in decodeBody so a bad payload is an error, not silent garbage.
		DisableCompression: true,
	}

	pools := make(map[string]*HeaderPool, len(headers.Pools))
	for typ, raw := range headers.Pools {
		profiles := make([]Profile, len(raw))
		for i, h := range raw {
			profiles[i] = Profile(h)
		}
		pools[typ] = NewHeaderPool(profiles, log)
	}

	return &Client{
		hc: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		cfg:   cfg,
		pools: pools,
		log:   log.With("component", "http_fetch"),
	}
}

// Pool exposes the header pool for an endpoint type. Used by tests and by
// operators resetting state between batch runs.
func (c *Client) Pool(endpointType string) *HeaderPool {
	return c.pools[endpointType]
}

// Fetch issues a GET against url using the header pool for endpointType.
// On success the pool cursor advances; on failure the current profile is
// marked failed before advancing. A challenge page is reported as
// ErrChallengePage so the caller can escalate immediately.
func (c *Client) Fetch(ctx context.Context, url, endpointType string) ([]byte, error) {
	pool, ok := c.pools[endpointType]
	if !ok {
		return nil, fmt.Errorf("fetch: no header pool for endpoint type %q", endpointType)
	}

	delay := util.Jitter(c.cfg.DelayMin, c.cfg.DelayMax)
	c.log.Debug("pacing before request", "delay", delay, "url", truncate(url))
	if err := util.Sleep(ctx, delay); err != nil {
		return nil, err
	}

	profile := pool.Next()

	body, err := c.get(ctx, url, profile)
	if err != nil {
		pool.MarkFailed()
		pool.Advance()
		return nil, err
	}

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "<") {
		pool.MarkFailed()
		pool.Advance()
		c.log.Warn("challenge page received", "url", truncate(url), "len", len(body))
		return nil, ErrChallengePage
	}
	if len(trimmed) < c.cfg.MinBodyLen {
		pool.Advance()
		return nil, fmt.Errorf("%w: %d bytes", ErrShortBody, len(trimmed))
	}

	pool.Advance()
	c.log.Debug("fetch succeeded", "url", truncate(url), "len", len(body))
	return body, nil
}

// get performs the request with the tier's retry policy: bounded attempts,
// exponential backoff, retry only on connect/timeout errors and on
// 5xx/429/408 statuses. Other 4xx and decode failures fail immediately.
func (c *Client) get(ctx context.Context, url string, profile Profile) ([]byte, error) {
	var lastErr error
	backoff := c.cfg.BackoffBase

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		body, retryable, err := c.doOnce(ctx, url, profile)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}

		c.log.Warn("transient fetch failure", "attempt", attempt, "error", err)
		if attempt < c.cfg.MaxAttempts {
			if err := util.Sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

// doOnce issues a single GET. The second return value reports whether the
// failure is transient and worth another attempt.
func (c *Client) doOnce(ctx context.Context, url string, profile Profile) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	for k, v := range profile {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// Connect/timeout/transport errors are transient.
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, retryableStatus(resp.StatusCode), fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	body, err := decodeBody(resp)
	if err != nil {
		// A payload we cannot decode will not improve on retry.
		return nil, false, err
	}
	return body, false, nil
}

// retryableStatus reports whether an HTTP status warrants another attempt:
// server errors, rate limiting, and request timeouts only.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests,
		http.StatusRequestTimeout:
		return true
	}
	return false
}

// decodeBody decompresses the response according to its advertised
// Content-Encoding. A declared encoding that fails to decode is a hard
// error; raw text is only assumed when no encoding is declared.
func decodeBody(resp *http.Response) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	var reader io.Reader
	switch encoding {
	case "", "identity":
		reader = resp.Body
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch: gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	case "br":
		reader = brotli.NewReader(resp.Body)
	default:
		return nil, fmt.Errorf("fetch: unsupported content encoding %q", encoding)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("fetch: decoding %q body: %w", encoding, err)
	}
	return body, nil
}

func truncate(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
