package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// BrowserOptions configures the headless-browser fetcher.
type BrowserOptions struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

// DefaultBrowserOptions returns a stealth-leaning desktop profile.
func DefaultBrowserOptions() *BrowserOptions {
	return &BrowserOptions{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.9,de;q=0.8",
		TimezoneID:     "Europe/Berlin",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"DNT":             "1",
		},
	}
}

// BrowserFetcher renders pages through headless Chromium. One browser
// context is shared; each Fetch runs in its own page.
type BrowserFetcher struct {
	pw         *playwright.Playwright
	browser    playwright.Browser
	context    playwright.BrowserContext
	classifier *Classifier
	timeout    time.Duration
	logger     *slog.Logger
}

// NewBrowserFetcher launches Chromium with anti-automation flags and
// returns a ready fetcher. Close must be called to release the browser.
func NewBrowserFetcher(opts *BrowserOptions, classifier *Classifier, logger *slog.Logger) (*BrowserFetcher, error) {
	if opts == nil {
		opts = DefaultBrowserOptions()
	}
	if classifier == nil {
		classifier = NewClassifier(0)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--window-size=1920,1080",
			"--user-agent=" + opts.UserAgent,
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &BrowserFetcher{
		pw:         pw,
		browser:    browser,
		context:    browserCtx,
		classifier: classifier,
		timeout:    opts.Timeout,
		logger:     logger.With("component", "browser_fetcher"),
	}, nil
}

type pageOutcome struct {
	html   string
	status int
	err    error
}

// Fetch navigates to url in a fresh page and returns the rendered DOM.
// The navigation budget is the earlier of ctx's deadline and the
// configured timeout; ctx cancellation aborts the page load.
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	start := time.Now()

	budget := b.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < budget {
			budget = remaining
		}
	}
	if budget <= 0 {
		return nil, &Failure{Kind: KindTimeout, URL: url, Detail: "no time left in budget"}
	}

	page, err := b.context.NewPage()
	if err != nil {
		return nil, &Failure{Kind: KindHTTPError, URL: url, Detail: fmt.Sprintf("failed to create page: %v", err)}
	}
	defer page.Close()

	done := make(chan pageOutcome, 1)
	go func() {
		resp, gotoErr := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(budget.Milliseconds())),
		})
		if gotoErr != nil {
			done <- pageOutcome{err: gotoErr}
			return
		}

		status := 0
		if resp != nil {
			status = resp.Status()
		}

		html, contentErr := page.Content()
		if contentErr != nil {
			done <- pageOutcome{err: contentErr}
			return
		}
		done <- pageOutcome{html: html, status: status}
	}()

	var out pageOutcome
	select {
	case <-ctx.Done():
		// Closing the page unblocks the Goto above.
		page.Close()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Failure{Kind: KindTimeout, URL: url, Detail: "context deadline exceeded"}
		}
		return nil, ctx.Err()
	case out = <-done:
	}

	if out.err != nil {
		if isPlaywrightTimeout(out.err) {
			return nil, &Failure{Kind: KindTimeout, URL: url, Detail: out.err.Error()}
		}
		return nil, &Failure{Kind: KindHTTPError, URL: url, Detail: out.err.Error()}
	}

	if out.status >= 400 {
		return nil, &Failure{Kind: KindHTTPError, URL: url, Detail: fmt.Sprintf("status %d", out.status)}
	}

	if reason, blocked := b.classifier.Blocked(out.html); blocked {
		b.logger.Warn("blocked response", "url", url, "reason", reason)
		return nil, &Failure{Kind: KindBlocked, URL: url, Detail: reason}
	}

	return &Result{
		URL:        page.URL(),
		HTML:       out.html,
		StatusCode: out.status,
		Elapsed:    time.Since(start),
	}, nil
}

// Close releases the browser context, browser, and playwright driver.
func (b *BrowserFetcher) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

func isPlaywrightTimeout(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
