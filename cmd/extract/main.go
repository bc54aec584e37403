package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/shophound/internal/config"
	"github.com/maltedev/shophound/internal/fetch"
	"github.com/maltedev/shophound/internal/pipeline"
	"github.com/maltedev/shophound/internal/product"
)

func main() {
	var (
		urls        = flag.String("urls", "", "Comma-separated list of listing URLs to extract from")
		inputFile   = flag.String("file", "", "File containing listing URLs (one per line)")
		query       = flag.String("query", "", "Free-text query recorded with the run")
		maxProducts = flag.Int("max-products", 0, "Maximum products per site (0 uses the configured default)")
		deadline    = flag.Duration("deadline", 0, "Overall run deadline (0 uses the configured default)")
		output      = flag.String("output", "text", "Output format: text, ndjson, json")
		savePath    = flag.String("save", "", "Write the summary and all extracted products to this JSON file")
		fetcherMode = flag.String("fetcher", "", "Fetcher to use: browser or unlocker (default from FETCH_MODE)")
		headless    = flag.Bool("headless", true, "Run browser in headless mode")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *fetcherMode != "" {
		cfg.Fetch.Mode = *fetcherMode
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Results go to stdout; logs stay on stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	candidates, err := loadURLs(*urls, *inputFile)
	if err != nil {
		log.Fatalf("Failed to load URLs: %v", err)
	}
	if len(candidates) == 0 {
		fmt.Fprintln(os.Stderr, "No URLs to extract from. Use -urls or -file to specify listing pages.")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "Shutdown signal received")
		cancel()
	}()

	cfg.Browser.Headless = *headless && cfg.Browser.Headless
	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize fetcher: %v", err)
	}
	defer fetcher.Close()

	printer := &printer{format: *output}
	saver := &resultWriter{}
	var emitter pipeline.Emitter = printer
	if *savePath != "" {
		emitter = pipeline.NewMultiEmitter(logger, printer, saver)
	}
	orchestrator := pipeline.NewOrchestrator(fetcher, emitter, pipeline.Config{
		ListingTimeout:  cfg.Pipeline.ListingTimeout,
		ProductTimeout:  cfg.Pipeline.ProductTimeout,
		TotalTimeout:    cfg.Pipeline.TotalTimeout,
		MaxFailureRatio: cfg.Pipeline.FailureRatio,
		PacerMinDelay:   cfg.Pipeline.PacerDelayMin,
		PacerMaxDelay:   cfg.Pipeline.PacerDelayMax,
	}, logger)

	runMax := cfg.Pipeline.MaxProducts
	if *maxProducts > 0 {
		runMax = *maxProducts
	}

	summary, err := orchestrator.Run(ctx, pipeline.Request{
		Query:       *query,
		URLs:        candidates,
		MaxProducts: runMax,
		Deadline:    *deadline,
	})
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	if *output == "json" {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode summary: %v", err)
		}
		fmt.Println(string(data))
	}

	if *savePath != "" {
		if err := saver.save(*savePath, summary); err != nil {
			log.Fatalf("Failed to save results: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Results written to %s\n", *savePath)
	}

	if summary.Succeeded == 0 {
		os.Exit(1)
	}
}

func loadURLs(urls, inputFile string) ([]string, error) {
	var out []string

	if urls != "" {
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u != "" {
				out = append(out, u)
			}
		}
	}

	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				out = append(out, line)
			}
		}
	}

	return out, nil
}

// printer renders run events progressively. Batches print the moment a
// site finishes, not when the whole run does.
type printer struct {
	format string
}

func (p *printer) Emit(_ context.Context, ev *pipeline.Event) error {
	if p.format == "ndjson" {
		return json.NewEncoder(os.Stdout).Encode(ev)
	}
	if p.format != "text" {
		return nil
	}

	switch ev.Type {
	case pipeline.EventSiteStarted:
		fmt.Fprintf(os.Stderr, "[%s] started\n", ev.SiteLabel)

	case pipeline.EventBatchReady:
		fmt.Printf("\n%s (%d products via %s)\n", ev.SiteLabel, len(ev.Products), ev.Strategy)
		for _, prod := range ev.Products {
			fmt.Printf("  %-44s %12s  %s\n", clip(prod.Name, 44), formatPrice(prod.Price, prod.Currency), prod.URL)
		}

	case pipeline.EventSiteSkipped:
		fmt.Fprintf(os.Stderr, "[%s] skipped (%s)\n", ev.SiteLabel, ev.Reason)

	case pipeline.EventSiteFailed:
		fmt.Fprintf(os.Stderr, "[%s] failed (%s)\n", ev.SiteLabel, ev.Reason)

	case pipeline.EventRunSummary:
		s := ev.Summary
		fmt.Printf("\n%d unique products | %d succeeded, %d skipped, %d failed | %dms\n",
			s.TotalUniqueProducts, s.Succeeded, s.Skipped, s.Failed, s.DurationMS)
	}
	return nil
}

// resultWriter collects forwarded batches so the complete result set
// can be written to disk once the run finishes.
type resultWriter struct {
	sites []siteResult
}

type siteResult struct {
	SiteLabel string             `json:"site_label"`
	Strategy  string             `json:"strategy_used"`
	Products  []*product.Product `json:"products"`
}

func (r *resultWriter) Emit(_ context.Context, ev *pipeline.Event) error {
	if ev.Type != pipeline.EventBatchReady {
		return nil
	}
	r.sites = append(r.sites, siteResult{
		SiteLabel: ev.SiteLabel,
		Strategy:  ev.Strategy,
		Products:  ev.Products,
	})
	return nil
}

func (r *resultWriter) save(path string, summary *pipeline.Summary) error {
	doc := struct {
		Summary *pipeline.Summary `json:"summary"`
		Sites   []siteResult      `json:"sites"`
	}{Summary: summary, Sites: r.sites}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}
	return nil
}

func formatPrice(amount *float64, currency string) string {
	if amount == nil {
		return "n/a"
	}
	if currency == "" {
		return fmt.Sprintf("%.2f", *amount)
	}
	return fmt.Sprintf("%.2f %s", *amount, currency)
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func newFetcher(cfg *config.Config, logger *slog.Logger) (fetch.Fetcher, error) {
	classifier := fetch.NewClassifier(cfg.Fetch.BlockSizeThreshold)

	switch cfg.Fetch.Mode {
	case config.FetchModeUnlocker:
		return fetch.NewUnlockerFetcher(&fetch.UnlockerOptions{
			Endpoint:          cfg.Fetch.UnlockerEndpoint,
			APIToken:          cfg.Fetch.UnlockerAPIToken,
			RequestsPerSecond: cfg.Fetch.UnlockerRPS,
			Burst:             cfg.Fetch.UnlockerBurst,
		}, classifier, logger)
	default:
		opts := fetch.DefaultBrowserOptions()
		opts.Headless = cfg.Browser.Headless
		opts.Timeout = cfg.Browser.Timeout
		opts.ViewportWidth = cfg.Browser.ViewportWidth
		opts.ViewportHeight = cfg.Browser.ViewportHeight
		opts.AcceptLanguage = cfg.Browser.AcceptLanguage
		opts.TimezoneID = cfg.Browser.TimezoneID
		opts.Locale = cfg.Browser.Locale
		opts.ProxyServer = cfg.Browser.ProxyServer
		return fetch.NewBrowserFetcher(opts, classifier, logger)
	}
}
