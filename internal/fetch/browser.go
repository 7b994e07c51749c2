package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"minbar/internal/config"
	"minbar/internal/util"
)

// ErrEmptyRender is returned when the rendered page has no usable payload.
var ErrEmptyRender = errors.New("fetch: rendered page empty or too short")

// hideWebdriver is evaluated before any page script so upstream automation
// probes see a plain browser.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

// Browser is the last-resort acquisition tier: it renders the endpoint in a
// headless Chrome instance so upstream request heuristics see a real
// browser. Each Render call launches and tears down its own instance.
type Browser struct {
	cfg config.Browser
	log *slog.Logger
}

// NewBrowser creates the browser tier from config.
func NewBrowser(cfg config.Browser, log *slog.Logger) *Browser {
	return &Browser{
		cfg: cfg,
		log: log.With("component", "browser"),
	}
}

// Enabled reports whether the fallback is switched on in config.
func (b *Browser) Enabled() bool { return b.cfg.Enabled }

// Render navigates a headless browser to url, waits a randomized settle
// interval, and returns the rendered document text. Empty bodies and
// HTML challenge pages are rejected with distinct errors. The browser
// instance is released on every exit path.
func (b *Browser) Render(ctx context.Context, url string) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(b.userAgent()),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, b.cfg.NavTimeout)
	defer cancelRun()

	settle := util.Jitter(b.cfg.SettleMin, b.cfg.SettleMax)
	b.log.Info("rendering via browser", "url", truncate(url), "settle", settle, "headless", b.cfg.Headless)

	var body string
	err := chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
			return err
		}),
		chromedp.Navigate(url),
		chromedp.Sleep(settle),
		chromedp.Text("body", &body, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch: browser render: %w", err)
	}

	trimmed := strings.TrimSpace(body)
	if len(trimmed) < 100 {
		return nil, fmt.Errorf("%w: %d bytes", ErrEmptyRender, len(trimmed))
	}
	if strings.HasPrefix(trimmed, "<") {
		return nil, ErrChallengePage
	}
	if !strings.Contains(trimmed, "jQuery") && !strings.Contains(trimmed, "{") {
		return nil, fmt.Errorf("%w: no JSON or JSONP markers", ErrEmptyRender)
	}

	b.log.Info("browser render succeeded", "len", len(trimmed))
	return []byte(trimmed), nil
}

// userAgent picks a random identity from the configured pool, or a stock
// Chrome identity when none is configured.
func (b *Browser) userAgent() string {
	if len(b.cfg.UserAgents) == 0 {
		return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	return b.cfg.UserAgents[rand.IntN(len(b.cfg.UserAgents))]
}
