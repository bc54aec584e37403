package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// structuredDataStrategy reads machine-readable product markup that
// sites embed for search engines: JSON-LD blocks first, then microdata
// attributes. Items must carry a name and a parseable price to count.
type structuredDataStrategy struct{}

func (s *structuredDataStrategy) Name() string { return StrategyStructuredData }

func (s *structuredDataStrategy) Extract(doc *goquery.Document, pageURL string) *Result {
	var raws []RawProduct

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(sel.Text()), &payload); err != nil {
			// Malformed blocks are common in the wild; skip, never fail.
			return
		}
		collectJSONLD(payload, &raws)
	})

	if len(raws) == 0 {
		raws = microdataProducts(doc)
	}

	valid := raws[:0]
	for _, r := range raws {
		if r.Name == "" {
			continue
		}
		if _, ok := ParsePrice(r.PriceText); !ok {
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil
	}
	return &Result{Products: valid}
}

// collectJSONLD walks a decoded JSON-LD payload and appends every
// Product node it can find. Recursion is limited to the container keys
// schema.org uses for nesting so a product's own variant references do
// not produce duplicates.
func collectJSONLD(v any, out *[]RawProduct) {
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			collectJSONLD(item, out)
		}
	case map[string]any:
		if isLDType(node, "Product") {
			if raw, ok := jsonLDProduct(node); ok {
				*out = append(*out, raw)
			}
			return
		}
		for _, key := range []string{"@graph", "itemListElement", "item", "mainEntity"} {
			if child, exists := node[key]; exists {
				collectJSONLD(child, out)
			}
		}
	}
}

// isLDType reports whether a node's @type matches want. @type may be a
// plain name, a schema.org URL, or an array of either.
func isLDType(node map[string]any, want string) bool {
	switch t := node["@type"].(type) {
	case string:
		return ldTypeName(t) == want
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && ldTypeName(s) == want {
				return true
			}
		}
	}
	return false
}

func ldTypeName(t string) string {
	if idx := strings.LastIndex(t, "/"); idx >= 0 {
		t = t[idx+1:]
	}
	return t
}

func jsonLDProduct(node map[string]any) (RawProduct, bool) {
	raw := RawProduct{
		Source:      SourceStructuredData,
		Name:        ldString(node["name"]),
		Description: ldString(node["description"]),
		URL:         ldString(node["url"]),
		SKU:         ldScalar(node["sku"]),
		Brand:       ldBrand(node["brand"]),
		ImageURL:    ldImage(node["image"]),
	}

	if raw.SKU == "" {
		raw.SKU = ldScalar(node["productID"])
	}
	if raw.SKU == "" {
		raw.SKU = ldScalar(node["mpn"])
	}

	offer := firstOffer(node["offers"])
	if offer != nil {
		raw.PriceText = ldScalar(offer["price"])
		if raw.PriceText == "" {
			raw.PriceText = ldScalar(offer["lowPrice"])
		}
		raw.Currency = ldString(offer["priceCurrency"])
		if raw.URL == "" {
			raw.URL = ldString(offer["url"])
		}
	}
	if raw.PriceText == "" {
		raw.PriceText = ldScalar(node["price"])
	}

	if raw.Name == "" && raw.PriceText == "" {
		return RawProduct{}, false
	}
	return raw, true
}

// firstOffer unwraps the offers field, which may be a single Offer, an
// AggregateOffer, or an array of offers.
func firstOffer(v any) map[string]any {
	switch offers := v.(type) {
	case map[string]any:
		return offers
	case []any:
		for _, item := range offers {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func ldString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// ldScalar renders string-or-number fields (price, sku) as text.
func ldScalar(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return FormatAmount(val)
	}
	return ""
}

func ldBrand(v any) string {
	switch brand := v.(type) {
	case string:
		return strings.TrimSpace(brand)
	case map[string]any:
		return ldString(brand["name"])
	}
	return ""
}

func ldImage(v any) string {
	switch img := v.(type) {
	case string:
		return strings.TrimSpace(img)
	case []any:
		for _, item := range img {
			if s, ok := item.(string); ok && s != "" {
				return strings.TrimSpace(s)
			}
			if m, ok := item.(map[string]any); ok {
				if u := ldString(m["url"]); u != "" {
					return u
				}
			}
		}
	case map[string]any:
		if u := ldString(img["url"]); u != "" {
			return u
		}
		return ldString(img["contentUrl"])
	}
	return ""
}

// microdataProducts reads itemscope/itemprop product markup, the older
// sibling of JSON-LD.
func microdataProducts(doc *goquery.Document) []RawProduct {
	var raws []RawProduct

	doc.Find(`[itemtype*="schema.org/Product"]`).Each(func(_ int, scope *goquery.Selection) {
		raw := RawProduct{
			Source:      SourceStructuredData,
			Name:        itemprop(scope, "name"),
			PriceText:   itemprop(scope, "price"),
			Currency:    itemprop(scope, "priceCurrency"),
			Brand:       itemprop(scope, "brand"),
			SKU:         itemprop(scope, "sku"),
			Description: itemprop(scope, "description"),
		}

		if link := scope.Find(`[itemprop="url"]`).First(); link.Length() > 0 {
			if href, ok := link.Attr("href"); ok {
				raw.URL = href
			} else {
				raw.URL = itemprop(scope, "url")
			}
		}
		if img := scope.Find(`[itemprop="image"]`).First(); img.Length() > 0 {
			if src, ok := img.Attr("src"); ok {
				raw.ImageURL = src
			} else if content, ok := img.Attr("content"); ok {
				raw.ImageURL = content
			}
		}

		if raw.Name != "" || raw.PriceText != "" {
			raws = append(raws, raw)
		}
	})

	return raws
}

// itemprop reads a microdata property, preferring the content
// attribute meta tags carry over visible text.
func itemprop(scope *goquery.Selection, name string) string {
	sel := scope.Find(`[itemprop="` + name + `"]`).First()
	if sel.Length() == 0 {
		return ""
	}
	if content, ok := sel.Attr("content"); ok && strings.TrimSpace(content) != "" {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(sel.Text())
}
