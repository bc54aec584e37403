package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/shophound/internal/extract"
	"github.com/maltedev/shophound/internal/fetch"
	"github.com/maltedev/shophound/internal/product"
	"github.com/maltedev/shophound/internal/sites"
)

// ErrNoCandidateURLs rejects a run before it starts; it is the only
// synchronous failure. Everything after start degrades per site.
var ErrNoCandidateURLs = errors.New("no candidate urls provided")

const summaryEmitTimeout = 5 * time.Second

// Config carries the run-level knobs. Zero fields fall back to the
// defaults below.
type Config struct {
	ListingTimeout time.Duration
	ProductTimeout time.Duration
	TotalTimeout   time.Duration

	// MaxFailureRatio flips a site from done to failed when the share
	// of per-product failures exceeds it. Values outside (0, 1) keep a
	// site done as long as one product survived.
	MaxFailureRatio float64

	PacerMinDelay time.Duration
	PacerMaxDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListingTimeout:  25 * time.Second,
		ProductTimeout:  20 * time.Second,
		TotalTimeout:    90 * time.Second,
		MaxFailureRatio: 1.0,
		PacerMinDelay:   150 * time.Millisecond,
		PacerMaxDelay:   600 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ListingTimeout <= 0 {
		c.ListingTimeout = def.ListingTimeout
	}
	if c.ProductTimeout <= 0 {
		c.ProductTimeout = def.ProductTimeout
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = def.TotalTimeout
	}
	if c.MaxFailureRatio <= 0 || c.MaxFailureRatio > 1 {
		c.MaxFailureRatio = def.MaxFailureRatio
	}
	if c.PacerMinDelay <= 0 {
		c.PacerMinDelay = def.PacerMinDelay
	}
	if c.PacerMaxDelay < c.PacerMinDelay {
		c.PacerMaxDelay = c.PacerMinDelay
	}
	return c
}

// Request describes one extraction run.
type Request struct {
	Query       string
	URLs        []string
	MaxProducts int
	// Deadline bounds the whole run; zero means Config.TotalTimeout.
	Deadline time.Duration
}

// Orchestrator fans one run out across all candidate URLs at once,
// forwards batches in completion order, deduplicates across the run,
// and always closes with exactly one summary.
type Orchestrator struct {
	fetcher      fetch.Fetcher
	emitter      Emitter
	cfg          Config
	listingChain *extract.Chain
	productChain *extract.Chain
	normalizer   *product.Normalizer
	logger       *slog.Logger
}

func NewOrchestrator(fetcher fetch.Fetcher, emitter Emitter, cfg Config, logger *slog.Logger) *Orchestrator {
	if emitter == nil {
		emitter = EmitterFunc(func(context.Context, *Event) error { return nil })
	}
	return &Orchestrator{
		fetcher:      fetcher,
		emitter:      emitter,
		cfg:          cfg.withDefaults(),
		listingChain: extract.NewListingChain(logger),
		productChain: extract.NewProductPageChain(logger),
		normalizer:   product.NewNormalizer(),
		logger:       logger.With("component", "orchestrator"),
	}
}

// Run executes one extraction run and blocks until the summary is out.
// Sites start concurrently with no stagger; each site's requests hit an
// independent origin, so cross-site limiting would only add latency.
// The returned Summary mirrors the final run_summary event; per-site
// failures never surface as an error here.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	return o.run(ctx, req, o.emitter)
}

// RunStreaming behaves like Run but additionally delivers every event
// of this run to sink, e.g. an open HTTP response.
func (o *Orchestrator) RunStreaming(ctx context.Context, req Request, sink Emitter) (*Summary, error) {
	if sink == nil {
		return o.run(ctx, req, o.emitter)
	}
	return o.run(ctx, req, NewMultiEmitter(o.logger, o.emitter, sink))
}

func (o *Orchestrator) run(ctx context.Context, req Request, emitter Emitter) (*Summary, error) {
	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		return nil, ErrNoCandidateURLs
	}

	runID := uuid.New().String()
	start := time.Now()
	logger := o.logger.With("run_id", runID)

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = o.cfg.TotalTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	maxProducts := req.MaxProducts
	if maxProducts < 0 {
		maxProducts = 0
	}

	jobs := make([]*SiteJob, 0, len(urls))
	for _, u := range urls {
		jobs = append(jobs, NewSiteJob(u, sites.Label(u), maxProducts))
	}

	logger.Info("run started",
		"query", req.Query,
		"sites", len(jobs),
		"max_products", maxProducts,
		"deadline", deadline,
	)

	worker := &siteWorker{
		fetcher:      o.fetcher,
		listingChain: o.listingChain,
		productChain: o.productChain,
		normalizer:   o.normalizer,
		cfg: workerConfig{
			listingTimeout:  o.cfg.ListingTimeout,
			productTimeout:  o.cfg.ProductTimeout,
			maxFailureRatio: o.cfg.MaxFailureRatio,
			pacerMinDelay:   o.cfg.PacerMinDelay,
			pacerMaxDelay:   o.cfg.PacerMaxDelay,
		},
		logger: logger,
	}

	// Each worker sends at most two events, so the buffer makes sends
	// non-blocking and no worker ever waits on the forwarding loop.
	messages := make(chan *Event, 2*len(jobs))

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(j *SiteJob) {
			defer wg.Done()
			worker.run(runCtx, j, messages)
		}(job)
	}
	go func() {
		wg.Wait()
		close(messages)
	}()

	// Single forwarding loop: emitters observe completion order, and
	// never concurrent calls.
	dedup := product.NewDedupSet()
	for ev := range messages {
		o.forward(ctx, runID, ev, dedup, emitter, logger)
	}

	summary := buildSummary(runID, req.Query, jobs, dedup.Len(), start)
	o.emitSummary(runID, summary, emitter, logger)

	logger.Info("run complete",
		"unique_products", summary.TotalUniqueProducts,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration_ms", summary.DurationMS,
	)
	return summary, nil
}

// forward applies run-scoped deduplication to batches and hands the
// event to the emitter. A batch whose products were all seen before is
// swallowed; its site stays done.
func (o *Orchestrator) forward(ctx context.Context, runID string, ev *Event, dedup *product.DedupSet, emitter Emitter, logger *slog.Logger) {
	if ev.Type == EventBatchReady {
		unique := ev.Products[:0]
		for _, p := range ev.Products {
			if dedup.Add(product.Key(p.Name, ev.SiteLabel, p.Price)) {
				unique = append(unique, p)
			}
		}
		if len(unique) == 0 {
			logger.Debug("batch fully deduplicated", "site", ev.SiteLabel)
			return
		}
		ev.Products = unique
	}
	o.emit(ctx, runID, ev, emitter, logger)
}

func (o *Orchestrator) emit(ctx context.Context, runID string, ev *Event, emitter Emitter, logger *slog.Logger) {
	ev.ID = uuid.New().String()
	ev.RunID = runID
	ev.Timestamp = time.Now()

	if err := emitter.Emit(ctx, ev); err != nil {
		logger.Warn("failed to emit event", "event_type", ev.Type, "error", err)
	}
}

// emitSummary publishes the run_summary on a fresh context so it still
// goes out when the run ended by deadline or cancellation.
func (o *Orchestrator) emitSummary(runID string, summary *Summary, emitter Emitter, logger *slog.Logger) {
	emitCtx, cancel := context.WithTimeout(context.Background(), summaryEmitTimeout)
	defer cancel()

	o.emit(emitCtx, runID, &Event{Type: EventRunSummary, Summary: summary}, emitter, logger)
}

func buildSummary(runID, query string, jobs []*SiteJob, uniqueProducts int, start time.Time) *Summary {
	summary := &Summary{
		RunID:               runID,
		Query:               query,
		TotalUniqueProducts: uniqueProducts,
		DurationMS:          time.Since(start).Milliseconds(),
		Sites:               make([]SiteOutcome, 0, len(jobs)),
	}

	for _, job := range jobs {
		outcome := job.Outcome()
		summary.Sites = append(summary.Sites, outcome)
		switch outcome.Status {
		case StatusDone:
			summary.Succeeded++
		case StatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}
	return summary
}
