package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/shophound/internal/extract"
	"github.com/maltedev/shophound/internal/fetch"
	"github.com/maltedev/shophound/internal/product"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubPage struct {
	html  string
	fail  *fetch.Failure
	delay time.Duration
}

// stubFetcher serves canned pages keyed by URL. Unknown URLs come back
// as 404-style failures, and delayed pages honor context cancellation
// the way the real fetchers do.
type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]stubPage
	calls map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		pages: make(map[string]stubPage),
		calls: make(map[string]int),
	}
}

func (f *stubFetcher) add(url, html string) {
	f.pages[url] = stubPage{html: html}
}

func (f *stubFetcher) addDelayed(url, html string, delay time.Duration) {
	f.pages[url] = stubPage{html: html, delay: delay}
}

func (f *stubFetcher) failWith(url string, kind fetch.Kind) {
	f.pages[url] = stubPage{fail: &fetch.Failure{Kind: kind, URL: url, Detail: string(kind)}}
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*fetch.Result, error) {
	f.mu.Lock()
	page, known := f.pages[url]
	f.calls[url]++
	f.mu.Unlock()

	if !known {
		return nil, &fetch.Failure{Kind: fetch.KindHTTPError, URL: url, Detail: "status 404"}
	}
	if page.delay > 0 {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &fetch.Failure{Kind: fetch.KindTimeout, URL: url, Detail: "navigation timeout"}
			}
			return nil, ctx.Err()
		case <-time.After(page.delay):
		}
	}
	if page.fail != nil {
		return nil, page.fail
	}
	return &fetch.Result{URL: url, HTML: page.html, StatusCode: 200, Elapsed: time.Millisecond}, nil
}

func (f *stubFetcher) Close() error { return nil }

func (f *stubFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *stubFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// structuredListing renders a listing page whose products are exposed
// as a JSON-LD array, name and price pairs in order.
func structuredListing(items ...[2]string) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><script type="application/ld+json">[`)
	for i, item := range items {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b,
			`{"@context":"https://schema.org","@type":"Product","name":%q,"url":"/p/%d","offers":{"@type":"Offer","price":%q,"priceCurrency":"EUR"}}`,
			item[0], i+1, item[1],
		)
	}
	b.WriteString(`]</script></head><body><div id="grid"></div></body></html>`)
	return b.String()
}

// gridListing renders a listing page with no machine-readable data,
// only product cards linking out.
func gridListing(hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body><div class="results">`)
	for _, href := range hrefs {
		fmt.Fprintf(&b, `<div class="product-card"><a href=%q>view item</a></div>`, href)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func productPage(name, price string) string {
	return fmt.Sprintf(
		`<!DOCTYPE html><html><head><script type="application/ld+json">{"@context":"https://schema.org","@type":"Product","name":%q,"offers":{"@type":"Offer","price":%q,"priceCurrency":"EUR"}}</script></head><body><h1>%s</h1></body></html>`,
		name, price, name,
	)
}

func newTestWorker(f fetch.Fetcher, cfg workerConfig) *siteWorker {
	logger := testLogger()
	return &siteWorker{
		fetcher:      f,
		listingChain: extract.NewListingChain(logger),
		productChain: extract.NewProductPageChain(logger),
		normalizer:   product.NewNormalizer(),
		cfg:          cfg,
		logger:       logger,
	}
}

func fastWorkerConfig() workerConfig {
	return workerConfig{
		listingTimeout:  2 * time.Second,
		productTimeout:  2 * time.Second,
		maxFailureRatio: 1.0,
		pacerMinDelay:   time.Millisecond,
		pacerMaxDelay:   2 * time.Millisecond,
	}
}

func runWorker(ctx context.Context, w *siteWorker, job *SiteJob) []*Event {
	out := make(chan *Event, 8)
	w.run(ctx, job, out)
	close(out)

	var events []*Event
	for ev := range out {
		events = append(events, ev)
	}
	return events
}

func TestWorkerEmitsBatchFromStructuredListing(t *testing.T) {
	f := newStubFetcher()
	f.add("https://alpha.com/search", structuredListing(
		[2]string{"Trail Shoe", "89.95"},
		[2]string{"Road Shoe", "119.00"},
		[2]string{"Hiking Boot", "149.50"},
	))

	w := newTestWorker(f, fastWorkerConfig())
	job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
	events := runWorker(context.Background(), w, job)

	require.Len(t, events, 2)
	assert.Equal(t, EventSiteStarted, events[0].Type)
	assert.Equal(t, "Alpha", events[0].SiteLabel)

	batch := events[1]
	require.Equal(t, EventBatchReady, batch.Type)
	assert.Equal(t, extract.StrategyStructuredData, batch.Strategy)
	require.Len(t, batch.Products, 3)
	assert.Equal(t, "Trail Shoe", batch.Products[0].Name)
	require.NotNil(t, batch.Products[0].Price)
	assert.InDelta(t, 89.95, *batch.Products[0].Price, 0.001)
	assert.Equal(t, "EUR", batch.Products[0].Currency)
	assert.Equal(t, "https://alpha.com/p/1", batch.Products[0].URL)

	assert.Equal(t, StatusDone, job.Status())
	assert.Equal(t, extract.StrategyStructuredData, job.Strategy())

	// Listing already carried full records, so no product pages were
	// fetched.
	assert.Equal(t, 1, f.totalCalls())
}

func TestWorkerFollowsGridLinks(t *testing.T) {
	f := newStubFetcher()
	f.add("https://alpha.com/search", gridListing(
		"/product/trail-shoe",
		"/product/road-shoe",
		"/product/hiking-boot",
	))
	f.add("https://alpha.com/product/trail-shoe", productPage("Trail Shoe", "89.95"))
	f.add("https://alpha.com/product/road-shoe", productPage("Road Shoe", "119.00"))
	f.add("https://alpha.com/product/hiking-boot", productPage("Hiking Boot", "149.50"))

	w := newTestWorker(f, fastWorkerConfig())
	job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
	events := runWorker(context.Background(), w, job)

	require.Len(t, events, 2)
	batch := events[1]
	require.Equal(t, EventBatchReady, batch.Type)
	assert.Equal(t, extract.StrategyVisualGrid, batch.Strategy)
	require.Len(t, batch.Products, 3)

	names := make([]string, 0, len(batch.Products))
	for _, p := range batch.Products {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"Trail Shoe", "Road Shoe", "Hiking Boot"}, names)

	assert.Equal(t, 4, f.totalCalls())
	assert.Equal(t, 1, f.callCount("https://alpha.com/search"))
}

func TestWorkerBlockedListingSkipsSite(t *testing.T) {
	f := newStubFetcher()
	f.failWith("https://gamma.com/search", fetch.KindBlocked)

	w := newTestWorker(f, fastWorkerConfig())
	job := NewSiteJob("https://gamma.com/search", "Gamma", 10)
	events := runWorker(context.Background(), w, job)

	require.Len(t, events, 2)
	assert.Equal(t, EventSiteSkipped, events[1].Type)
	assert.Equal(t, ReasonBlocked, events[1].Reason)
	assert.Equal(t, StatusSkipped, job.Status())

	// A blocked site is done for the run. One fetch, no retry.
	assert.Equal(t, 1, f.totalCalls())
}

func TestWorkerListingFetchFailures(t *testing.T) {
	tests := []struct {
		name       string
		kind       fetch.Kind
		wantStatus Status
		wantReason string
	}{
		{"timeout fails the site", fetch.KindTimeout, StatusFailed, ReasonTimeout},
		{"http error fails the site", fetch.KindHTTPError, StatusFailed, ReasonHTTPError},
		{"blocked skips the site", fetch.KindBlocked, StatusSkipped, ReasonBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStubFetcher()
			f.failWith("https://alpha.com/search", tt.kind)

			w := newTestWorker(f, fastWorkerConfig())
			job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
			events := runWorker(context.Background(), w, job)

			require.Len(t, events, 2)
			assert.Equal(t, tt.wantStatus, job.Status())
			assert.Equal(t, tt.wantReason, events[1].Reason)
		})
	}
}

func TestWorkerNoExtractableContent(t *testing.T) {
	f := newStubFetcher()
	f.add("https://alpha.com/search", `<!DOCTYPE html><html><body><p>About our company</p></body></html>`)

	w := newTestWorker(f, fastWorkerConfig())
	job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
	events := runWorker(context.Background(), w, job)

	require.Len(t, events, 2)
	assert.Equal(t, EventSiteFailed, events[1].Type)
	assert.Equal(t, ReasonNoExtractableHTML, events[1].Reason)
	assert.Equal(t, StatusFailed, job.Status())
}

func TestWorkerMaxProductsZero(t *testing.T) {
	f := newStubFetcher()
	f.add("https://alpha.com/search", structuredListing(
		[2]string{"Trail Shoe", "89.95"},
	))

	w := newTestWorker(f, fastWorkerConfig())
	job := NewSiteJob("https://alpha.com/search", "Alpha", 0)
	events := runWorker(context.Background(), w, job)

	require.Len(t, events, 2)
	assert.Equal(t, EventSiteFailed, events[1].Type)
	assert.Equal(t, ReasonNoProducts, events[1].Reason)
}

func TestWorkerCapsProducts(t *testing.T) {
	f := newStubFetcher()
	f.add("https://alpha.com/search", structuredListing(
		[2]string{"One", "10.00"},
		[2]string{"Two", "20.00"},
		[2]string{"Three", "30.00"},
		[2]string{"Four", "40.00"},
		[2]string{"Five", "50.00"},
	))

	w := newTestWorker(f, fastWorkerConfig())
	job := NewSiteJob("https://alpha.com/search", "Alpha", 2)
	events := runWorker(context.Background(), w, job)

	require.Len(t, events, 2)
	batch := events[1]
	require.Equal(t, EventBatchReady, batch.Type)
	require.Len(t, batch.Products, 2)
	assert.Equal(t, "One", batch.Products[0].Name)
	assert.Equal(t, "Two", batch.Products[1].Name)
}

func TestWorkerAllProductPagesFail(t *testing.T) {
	f := newStubFetcher()
	f.add("https://alpha.com/search", gridListing(
		"/product/gone-one",
		"/product/gone-two",
	))
	// Product pages are left unregistered, so every follow-up fetch
	// 404s.

	w := newTestWorker(f, fastWorkerConfig())
	job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
	events := runWorker(context.Background(), w, job)

	require.Len(t, events, 2)
	assert.Equal(t, EventSiteFailed, events[1].Type)
	assert.Equal(t, ReasonNoProducts, events[1].Reason)
}

func TestWorkerFailureRatioPolicy(t *testing.T) {
	listing := gridListing(
		"/product/alive",
		"/product/dead-one",
		"/product/dead-two",
		"/product/dead-three",
	)

	t.Run("strict ratio flips partial yield to failed", func(t *testing.T) {
		f := newStubFetcher()
		f.add("https://alpha.com/search", listing)
		f.add("https://alpha.com/product/alive", productPage("Survivor", "25.00"))

		cfg := fastWorkerConfig()
		cfg.maxFailureRatio = 0.5
		w := newTestWorker(f, cfg)
		job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
		events := runWorker(context.Background(), w, job)

		require.Len(t, events, 2)
		assert.Equal(t, EventSiteFailed, events[1].Type)
		assert.Equal(t, ReasonTooManyProductFails, events[1].Reason)
	})

	t.Run("default ratio keeps partial yield", func(t *testing.T) {
		f := newStubFetcher()
		f.add("https://alpha.com/search", listing)
		f.add("https://alpha.com/product/alive", productPage("Survivor", "25.00"))

		w := newTestWorker(f, fastWorkerConfig())
		job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
		events := runWorker(context.Background(), w, job)

		require.Len(t, events, 2)
		batch := events[1]
		require.Equal(t, EventBatchReady, batch.Type)
		require.Len(t, batch.Products, 1)
		assert.Equal(t, "Survivor", batch.Products[0].Name)
	})
}

func TestWorkerRunDeadlineReportsDeadlineExceeded(t *testing.T) {
	f := newStubFetcher()
	f.addDelayed("https://alpha.com/search", structuredListing([2]string{"Late", "10.00"}), 300*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	w := newTestWorker(f, fastWorkerConfig())
	job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
	events := runWorker(ctx, w, job)

	require.Len(t, events, 2)
	assert.Equal(t, EventSiteFailed, events[1].Type)
	assert.Equal(t, ReasonDeadlineExceeded, events[1].Reason)
}

func TestWorkerListingTimeoutStaysTimeout(t *testing.T) {
	f := newStubFetcher()
	f.addDelayed("https://alpha.com/search", structuredListing([2]string{"Late", "10.00"}), 300*time.Millisecond)

	cfg := fastWorkerConfig()
	cfg.listingTimeout = 30 * time.Millisecond
	w := newTestWorker(f, cfg)
	job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
	events := runWorker(context.Background(), w, job)

	// The run context is still healthy, so a slow listing is the
	// site's own timeout, not the run deadline.
	require.Len(t, events, 2)
	assert.Equal(t, EventSiteFailed, events[1].Type)
	assert.Equal(t, ReasonTimeout, events[1].Reason)
}

func TestDedupeLinks(t *testing.T) {
	links := []string{
		"https://a.com/product/x",
		"https://a.com/product/y",
		"https://a.com/product/x",
		"https://a.com/product/z",
		"https://a.com/product/y",
	}
	assert.Equal(t, []string{
		"https://a.com/product/x",
		"https://a.com/product/y",
		"https://a.com/product/z",
	}, dedupeLinks(links))
}

func TestCapLinks(t *testing.T) {
	links := []string{"a", "b", "c"}

	assert.Len(t, capLinks(links, 2), 2)
	assert.Len(t, capLinks(links, 3), 3)
	assert.Len(t, capLinks(links, 10), 3)
	assert.Empty(t, capLinks(links, 0))
	assert.Empty(t, capLinks(links, -1))
}

func TestPerSiteFetchLimit(t *testing.T) {
	assert.Equal(t, 5, perSiteFetchLimit(1))
	assert.Equal(t, 5, perSiteFetchLimit(10))
	assert.Equal(t, 10, perSiteFetchLimit(11))
	assert.Equal(t, 10, perSiteFetchLimit(100))
}
