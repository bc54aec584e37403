// Package extract turns rendered listing and product pages into raw
// product records. Strategies are ordered by trustworthiness: embedded
// machine-readable markup first, serialized app state second, and a
// visual-grid link heuristic last. The first strategy producing a
// validated non-empty result wins; parse failures inside a strategy
// degrade to an empty result, never to an error.
package extract

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	StrategyStructuredData = "structured_data"
	StrategyEmbeddedState  = "embedded_state"
	StrategyVisualGrid     = "visual_grid"
)

// Result is the outcome of one chain run. Products carries full raw
// records (strategies 1 and 2); Links carries per-product page URLs
// still to be fetched (strategy 3). At most one of the two is set.
type Result struct {
	Strategy string
	Products []RawProduct
	Links    []string
}

// Empty reports whether the run produced nothing usable.
func (r *Result) Empty() bool {
	return len(r.Products) == 0 && len(r.Links) == 0
}

// Strategy is one extraction approach. Extract returns nil when the
// page yields nothing plausible for this approach.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document, pageURL string) *Result
}

// Chain runs strategies in order and stops at the first non-empty
// validated result.
type Chain struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewListingChain builds the full chain used on listing pages.
func NewListingChain(logger *slog.Logger) *Chain {
	return &Chain{
		strategies: []Strategy{
			&structuredDataStrategy{},
			&embeddedStateStrategy{},
			&gridStrategy{},
		},
		logger: logger.With("component", "extraction_chain"),
	}
}

// NewProductPageChain builds the chain used on individual product
// pages. The grid heuristic is listing-page-only: a product page full
// of "related items" links would otherwise fan out forever.
func NewProductPageChain(logger *slog.Logger) *Chain {
	return &Chain{
		strategies: []Strategy{
			&structuredDataStrategy{},
			&embeddedStateStrategy{},
		},
		logger: logger.With("component", "extraction_chain"),
	}
}

// Run tries each strategy against html in order. The returned Result
// is never nil; Strategy is empty when every strategy came up dry.
func (c *Chain) Run(html string, pageURL string) *Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		c.logger.Debug("failed to parse html", "url", pageURL, "error", err)
		return &Result{}
	}

	for _, s := range c.strategies {
		res := s.Extract(doc, pageURL)
		if res == nil || res.Empty() {
			continue
		}
		res.Strategy = s.Name()
		c.logger.Debug("strategy won",
			"strategy", res.Strategy,
			"url", pageURL,
			"products", len(res.Products),
			"links", len(res.Links),
		)
		return res
	}

	return &Result{}
}
