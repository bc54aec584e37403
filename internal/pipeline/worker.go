package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/shophound/internal/extract"
	"github.com/maltedev/shophound/internal/fetch"
	"github.com/maltedev/shophound/internal/product"
	"github.com/maltedev/shophound/internal/ratelimit"
)

type workerConfig struct {
	listingTimeout  time.Duration
	productTimeout  time.Duration
	maxFailureRatio float64
	pacerMinDelay   time.Duration
	pacerMaxDelay   time.Duration
}

// siteWorker processes one SiteJob end to end: listing fetch, strategy
// chain, optional per-product fetches, normalization, one batch. A
// misbehaving site ends in a terminal status, never in a fault that
// touches sibling sites.
type siteWorker struct {
	fetcher      fetch.Fetcher
	listingChain *extract.Chain
	productChain *extract.Chain
	normalizer   *product.Normalizer
	cfg          workerConfig
	logger       *slog.Logger
}

// rawPage pairs a raw record with the page it came from, which anchors
// relative URLs during normalization.
type rawPage struct {
	raw     extract.RawProduct
	pageURL string
}

func (w *siteWorker) run(ctx context.Context, job *SiteJob, out chan<- *Event) {
	logger := w.logger.With("site", job.SiteLabel, "url", job.URL)

	job.Transition(StatusFetching)
	out <- &Event{Type: EventSiteStarted, SiteLabel: job.SiteLabel}

	listingCtx, cancel := context.WithTimeout(ctx, w.cfg.listingTimeout)
	page, err := w.fetcher.Fetch(listingCtx, job.URL)
	cancel()
	if err != nil {
		w.finishFetchFailure(ctx, job, out, err, logger)
		return
	}

	job.Transition(StatusExtracting)
	chainRes := w.listingChain.Run(page.HTML, job.URL)
	job.SetStrategy(chainRes.Strategy)

	var (
		collected []rawPage
		attempted int
		failures  int
	)

	switch {
	case len(chainRes.Products) > 0:
		attempted = len(chainRes.Products)
		for _, raw := range chainRes.Products {
			collected = append(collected, rawPage{raw: raw, pageURL: job.URL})
		}

	case len(chainRes.Links) > 0:
		links := capLinks(dedupeLinks(chainRes.Links), job.MaxProducts)
		attempted = len(links)
		collected, failures = w.fetchProductPages(ctx, links, logger)

	default:
		w.finish(job, out, StatusFailed, ReasonNoExtractableHTML, logger)
		return
	}

	products := make([]*product.Product, 0, len(collected))
	discards := make(map[product.DiscardReason]int)
	for _, item := range collected {
		p, err := w.normalizer.Normalize(item.raw, item.pageURL)
		if err != nil {
			failures++
			if reason, ok := product.DiscardReasonOf(err); ok {
				discards[reason]++
			}
			continue
		}
		products = append(products, p)
	}
	if len(discards) > 0 {
		logger.Debug("normalization discards", "counts", discards)
	}

	if len(products) > job.MaxProducts {
		products = products[:job.MaxProducts]
	}

	if len(products) == 0 {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			w.finish(job, out, StatusFailed, ReasonDeadlineExceeded, logger)
		case context.Canceled:
			w.finish(job, out, StatusFailed, ReasonCancelled, logger)
		default:
			w.finish(job, out, StatusFailed, ReasonNoProducts, logger)
		}
		return
	}

	if attempted > 0 && w.cfg.maxFailureRatio < 1.0 {
		if float64(failures)/float64(attempted) > w.cfg.maxFailureRatio {
			w.finish(job, out, StatusFailed, ReasonTooManyProductFails, logger)
			return
		}
	}

	job.SetProductCount(len(products))
	job.Finish(StatusDone, "")
	out <- &Event{
		Type:      EventBatchReady,
		SiteLabel: job.SiteLabel,
		Products:  products,
		Strategy:  chainRes.Strategy,
	}
	logger.Info("site done",
		"strategy", chainRes.Strategy,
		"products", len(products),
		"attempted", attempted,
		"failures", failures,
	)
}

// fetchProductPages retrieves the capped link set concurrently under
// the per-site limit, pacing request starts so one origin never sees
// the whole burst at once. Per-product failures are counted, never
// fatal to siblings.
func (w *siteWorker) fetchProductPages(ctx context.Context, links []string, logger *slog.Logger) ([]rawPage, int) {
	pacer := ratelimit.NewAdaptivePacer(w.cfg.pacerMinDelay, w.cfg.pacerMaxDelay)

	var (
		mu        sync.Mutex
		collected []rawPage
		failed    int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(perSiteFetchLimit(len(links)))

	for _, link := range links {
		g.Go(func() error {
			if err := pacer.Wait(gctx); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}

			fetchCtx, cancel := context.WithTimeout(gctx, w.cfg.productTimeout)
			page, err := w.fetcher.Fetch(fetchCtx, link)
			cancel()
			if err != nil {
				pacer.RecordError()
				logger.Warn("product page fetch failed", "link", link, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			pacer.RecordSuccess()

			res := w.productChain.Run(page.HTML, link)
			if len(res.Products) == 0 {
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}

			// The first record is the page's own product; anything
			// after it is recommendations.
			mu.Lock()
			collected = append(collected, rawPage{raw: res.Products[0], pageURL: link})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return collected, failed
}

// finishFetchFailure maps a listing fetch error to the job's terminal
// status. The run-level context is consulted first so a site cut off
// by the overall deadline reports deadline_exceeded, not a generic
// timeout.
func (w *siteWorker) finishFetchFailure(ctx context.Context, job *SiteJob, out chan<- *Event, err error, logger *slog.Logger) {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		w.finish(job, out, StatusFailed, ReasonDeadlineExceeded, logger)
		return
	case context.Canceled:
		w.finish(job, out, StatusFailed, ReasonCancelled, logger)
		return
	}

	if failure, ok := fetch.FailureOf(err); ok {
		switch failure.Kind {
		case fetch.KindBlocked:
			// Blocked sites are skipped and never retried within the
			// same run; retrying a challenge page only digs the hole
			// deeper.
			w.finish(job, out, StatusSkipped, ReasonBlocked, logger)
		case fetch.KindTimeout:
			w.finish(job, out, StatusFailed, ReasonTimeout, logger)
		default:
			w.finish(job, out, StatusFailed, ReasonHTTPError, logger)
		}
		return
	}

	logger.Warn("listing fetch failed", "error", err)
	w.finish(job, out, StatusFailed, ReasonHTTPError, logger)
}

func (w *siteWorker) finish(job *SiteJob, out chan<- *Event, status Status, reason string, logger *slog.Logger) {
	if !job.Finish(status, reason) {
		return
	}

	typ := EventSiteFailed
	if status == StatusSkipped {
		typ = EventSiteSkipped
	}
	out <- &Event{Type: typ, SiteLabel: job.SiteLabel, Reason: reason}
	logger.Info("site finished", "status", status, "reason", reason)
}

// perSiteFetchLimit balances intra-site parallelism against a single
// origin's rate limiting: wider for big link sets, narrower otherwise.
func perSiteFetchLimit(queued int) int {
	if queued > 10 {
		return 10
	}
	return 5
}

func dedupeLinks(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := links[:0]
	for _, link := range links {
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

func capLinks(links []string, max int) []string {
	if max < 0 {
		max = 0
	}
	if len(links) > max {
		return links[:max]
	}
	return links
}
