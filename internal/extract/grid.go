package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxGridLinks = 100

// Path tokens that mark a URL as pointing at a single product across
// the major shop platforms.
var productPathMarkers = []string{
	"/product/",
	"/products/",
	"/p/",
	"/dp/",
	"/gp/product/",
	"/item/",
	"/itm/",
	"/pd/",
}

// gridStrategy is the last resort on listing pages: no machine-readable
// data, so infer product links from the repeated card containers the
// grid of tiles is built from. It yields links only; the pages behind
// them still have to be fetched and extracted individually.
type gridStrategy struct{}

func (s *gridStrategy) Name() string { return StrategyVisualGrid }

func (s *gridStrategy) Extract(doc *goquery.Document, pageURL string) *Result {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	baseHost := strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.")

	var links []string
	seen := make(map[string]struct{})

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return true
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return true
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return true
		}

		// Off-site links in a product grid are ads, not products.
		host := strings.TrimPrefix(strings.ToLower(resolved.Hostname()), "www.")
		if host != baseHost && !strings.HasSuffix(host, "."+baseHost) {
			return true
		}

		if !productPath(resolved.Path) && !productContainer(sel) {
			return true
		}

		resolved.Fragment = ""
		link := resolved.String()
		if link == pageURL {
			return true
		}
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		links = append(links, link)
		return len(links) < maxGridLinks
	})

	if len(links) == 0 {
		return nil
	}
	return &Result{Links: links}
}

// productPath reports whether path contains a product marker token with
// a slug after it. A bare "/products/" is a category root, not a
// product.
func productPath(path string) bool {
	lower := strings.ToLower(path)
	for _, marker := range productPathMarkers {
		idx := strings.Index(lower, marker)
		if idx >= 0 && idx+len(marker) < len(lower) {
			return true
		}
	}
	return false
}

// productContainer reports whether the anchor sits in a card whose
// class or id names it a product tile. Only the anchor and its three
// nearest ancestors count; looking higher would match page-level
// wrappers and qualify every link on the page.
func productContainer(sel *goquery.Selection) bool {
	node := sel
	for i := 0; i < 4 && node.Length() > 0; i++ {
		class, _ := node.Attr("class")
		id, _ := node.Attr("id")
		if strings.Contains(strings.ToLower(class), "product") ||
			strings.Contains(strings.ToLower(id), "product") {
			return true
		}
		node = node.Parent()
	}
	return false
}
