package extract

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxStateDepth    = 24
	maxStateProducts = 200
)

// Assignment markers for the state blobs client frameworks serialize
// into the page to hydrate their UI.
var stateMarkers = []string{
	"window.__INITIAL_STATE__",
	"window.__PRELOADED_STATE__",
	"window.__APOLLO_STATE__",
	"window.INITIAL_STATE",
}

var (
	stateNameKeys  = []string{"name", "title", "productName", "product_name", "displayName"}
	statePriceKeys = []string{"price", "currentPrice", "current_price", "salePrice", "sale_price", "priceValue"}
	stateURLKeys   = []string{"url", "productUrl", "product_url", "link", "href", "canonicalUrl"}
	stateImageKeys = []string{"image", "imageUrl", "image_url", "img", "thumbnail", "primaryImage"}
	stateSKUKeys   = []string{"sku", "productId", "product_id", "itemId", "item_id", "id"}
)

// embeddedStateStrategy mines the JSON blobs frameworks leave in the
// page (Next.js __NEXT_DATA__, Redux-style window.__INITIAL_STATE__
// assignments) for product-shaped objects: anything carrying both a
// name-like and a price-like field.
type embeddedStateStrategy struct{}

func (s *embeddedStateStrategy) Name() string { return StrategyEmbeddedState }

func (s *embeddedStateStrategy) Extract(doc *goquery.Document, pageURL string) *Result {
	var raws []RawProduct
	seen := make(map[string]struct{})

	if next := doc.Find("script#__NEXT_DATA__").First(); next.Length() > 0 {
		var payload any
		if err := json.Unmarshal([]byte(next.Text()), &payload); err == nil {
			walkState(payload, 0, &raws, seen)
		}
	}

	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		for _, marker := range stateMarkers {
			idx := strings.Index(text, marker)
			if idx < 0 {
				continue
			}
			blob, ok := stateAssignment(text[idx+len(marker):])
			if !ok {
				continue
			}
			var payload any
			if err := json.Unmarshal([]byte(blob), &payload); err != nil {
				continue
			}
			walkState(payload, 0, &raws, seen)
		}
		return len(raws) < maxStateProducts
	})

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

// stateAssignment isolates the JSON payload following an "=" in a
// state assignment. Handles both a bare object literal and the
// JSON.parse("...") double-encoded form.
func stateAssignment(text string) (string, bool) {
	eq := strings.Index(text, "=")
	if eq < 0 {
		return "", false
	}
	rest := strings.TrimSpace(text[eq+1:])

	if strings.HasPrefix(rest, "JSON.parse(") {
		inner := rest[len("JSON.parse("):]
		literal, ok := jsStringLiteral(inner)
		if !ok {
			return "", false
		}
		decoded, err := strconv.Unquote(literal)
		if err != nil {
			return "", false
		}
		return decoded, true
	}

	if strings.HasPrefix(rest, "{") {
		return balancedObject(rest)
	}
	return "", false
}

// jsStringLiteral returns a double-quoted string literal, including its
// quotes, from the start of s.
func jsStringLiteral(s string) (string, bool) {
	if len(s) == 0 || s[0] != '"' {
		return "", false
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return s[:i+1], true
		}
	}
	return "", false
}

// balancedObject returns the prefix of s spanning one complete {...}
// literal, honoring strings and escapes.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// walkState descends the decoded blob looking for product-shaped maps.
// Keys are visited in sorted order so repeated runs over the same page
// discover products deterministically.
func walkState(v any, depth int, out *[]RawProduct, seen map[string]struct{}) {
	if depth > maxStateDepth || len(*out) >= maxStateProducts {
		return
	}

	switch node := v.(type) {
	case []any:
		for _, item := range node {
			walkState(item, depth+1, out, seen)
		}
	case map[string]any:
		if raw, ok := stateProduct(node); ok {
			key := strings.ToLower(raw.Name) + "|" + raw.PriceText
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				*out = append(*out, raw)
			}
			// A product's nested values describe variants of itself,
			// not further products.
			return
		}

		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkState(node[k], depth+1, out, seen)
		}
	}
}

// stateProduct interprets a map as a product when it has both a name
// and a price field.
func stateProduct(node map[string]any) (RawProduct, bool) {
	name := firstStringField(node, stateNameKeys)
	if name == "" {
		return RawProduct{}, false
	}

	priceText, currency := firstPriceField(node, statePriceKeys)
	if priceText == "" {
		return RawProduct{}, false
	}

	raw := RawProduct{
		Source:    SourceEmbeddedState,
		Name:      name,
		PriceText: priceText,
		Currency:  currency,
		URL:       firstStringField(node, stateURLKeys),
		ImageURL:  firstImageField(node, stateImageKeys),
		SKU:       firstScalarField(node, stateSKUKeys),
		Brand:     brandField(node["brand"]),
	}
	if desc, ok := node["description"].(string); ok {
		raw.Description = strings.TrimSpace(desc)
	}
	return raw, true
}

func firstStringField(node map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := node[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstScalarField(node map[string]any, keys []string) string {
	for _, k := range keys {
		switch val := node[k].(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				return strings.TrimSpace(val)
			}
		case float64:
			return FormatAmount(val)
		}
	}
	return ""
}

// firstPriceField renders the first price-like value as text. Values
// appear as plain numbers, display strings, or nested objects like
// {"value": 29.99, "currency": "EUR"}.
func firstPriceField(node map[string]any, keys []string) (string, string) {
	for _, k := range keys {
		switch val := node[k].(type) {
		case float64:
			return FormatAmount(val), ""
		case string:
			if strings.TrimSpace(val) != "" {
				return strings.TrimSpace(val), ""
			}
		case map[string]any:
			text := firstScalarField(val, []string{"value", "amount", "current", "price"})
			if text == "" {
				continue
			}
			currency := firstStringField(val, []string{"currency", "currencyCode", "currency_code"})
			return text, currency
		}
	}
	return "", ""
}

func firstImageField(node map[string]any, keys []string) string {
	for _, k := range keys {
		switch val := node[k].(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				return strings.TrimSpace(val)
			}
		case map[string]any:
			if u := firstStringField(val, []string{"url", "src"}); u != "" {
				return u
			}
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func brandField(v any) string {
	switch brand := v.(type) {
	case string:
		return strings.TrimSpace(brand)
	case map[string]any:
		return firstStringField(brand, []string{"name"})
	}
	return ""
}
