package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxPageBytes = 10 << 20 // 10 MB

	defaultUnlockerRate  = rate.Limit(2)
	defaultUnlockerBurst = 4
)

// UnlockerOptions configures the gateway fetcher.
type UnlockerOptions struct {
	Endpoint string
	APIToken string
	Timeout  time.Duration

	// RequestsPerSecond throttles calls against the gateway's plan
	// quota. Zero means the default of 2 req/s.
	RequestsPerSecond float64
	Burst             int
}

// UnlockerFetcher retrieves pages through a managed unlocking gateway.
// The gateway handles proxies and challenge solving on its side; we
// still classify the returned HTML because an unlock can fail quietly.
type UnlockerFetcher struct {
	httpClient *http.Client
	endpoint   string
	apiToken   string
	limiter    *rate.Limiter
	classifier *Classifier
	logger     *slog.Logger
}

// NewUnlockerFetcher builds a gateway-backed fetcher.
func NewUnlockerFetcher(opts *UnlockerOptions, classifier *Classifier, logger *slog.Logger) (*UnlockerFetcher, error) {
	if opts == nil || opts.Endpoint == "" {
		return nil, errors.New("unlocker endpoint is required")
	}
	if classifier == nil {
		classifier = NewClassifier(0)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	limit := defaultUnlockerRate
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := defaultUnlockerBurst
	if opts.Burst > 0 {
		burst = opts.Burst
	}

	return &UnlockerFetcher{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   opts.Endpoint,
		apiToken:   opts.APIToken,
		limiter:    rate.NewLimiter(limit, burst),
		classifier: classifier,
		logger:     logger.With("component", "unlocker_fetcher"),
	}, nil
}

// Fetch asks the gateway to retrieve and render target. The limiter is
// consulted first so a burst of sites cannot blow the plan quota.
func (u *UnlockerFetcher) Fetch(ctx context.Context, target string) (*Result, error) {
	start := time.Now()

	if err := u.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Failure{Kind: KindTimeout, URL: target, Detail: "deadline while waiting for rate limiter"}
		}
		return nil, err
	}

	params := url.Values{}
	params.Add("url", target)
	params.Add("render", "true")
	reqURL := fmt.Sprintf("%s?%s", u.endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	if u.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+u.apiToken)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, context.Canceled
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &Failure{Kind: KindTimeout, URL: target, Detail: "context deadline exceeded"}
		case isTimeoutErr(err):
			return nil, &Failure{Kind: KindTimeout, URL: target, Detail: err.Error()}
		default:
			return nil, &Failure{Kind: KindHTTPError, URL: target, Detail: err.Error()}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &Failure{Kind: KindHTTPError, URL: target, Detail: fmt.Sprintf("gateway status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		return nil, &Failure{Kind: KindHTTPError, URL: target, Detail: fmt.Sprintf("failed to read body: %v", err)}
	}

	html := string(body)
	if reason, blocked := u.classifier.Blocked(html); blocked {
		u.logger.Warn("gateway returned blocked content", "url", target, "reason", reason)
		return nil, &Failure{Kind: KindBlocked, URL: target, Detail: reason}
	}

	return &Result{
		URL:        target,
		HTML:       html,
		StatusCode: resp.StatusCode,
		Elapsed:    time.Since(start),
	}, nil
}

// Close is a no-op; the gateway holds no local resources beyond the
// shared HTTP client.
func (u *UnlockerFetcher) Close() error { return nil }

func isTimeoutErr(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
