package product

import (
	"net/url"
	"strings"

	"github.com/maltedev/shophound/internal/extract"
	"github.com/maltedev/shophound/internal/sites"
)

const maxDescriptionRunes = 500

// DiscardReason classifies why a raw record was rejected.
type DiscardReason string

const (
	DiscardMissingName     DiscardReason = "missing_name"
	DiscardMissingURL      DiscardReason = "missing_url"
	DiscardUnparsablePrice DiscardReason = "unparsable_price"
)

// Discard is the error returned for rejected records. Rejections are
// counted per site, never fatal.
type Discard struct {
	Reason DiscardReason
}

func (d *Discard) Error() string {
	return "product discarded: " + string(d.Reason)
}

// DiscardReasonOf extracts the reason when err is a Discard.
func DiscardReasonOf(err error) (DiscardReason, bool) {
	if d, ok := err.(*Discard); ok {
		return d.Reason, true
	}
	return "", false
}

// Normalizer converts raw strategy output into canonical Products. It
// is pure: no I/O, no shared state, same input same output.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize validates and repairs one raw record. pageURL is the page
// the record came from; it anchors relative links and stands in when
// the record names no URL of its own. A record missing a price is kept
// with a nil price; a record whose price text exists but cannot be
// parsed is discarded, since a garbled price makes the whole record
// suspect.
func (n *Normalizer) Normalize(raw extract.RawProduct, pageURL string) (*Product, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return nil, &Discard{Reason: DiscardMissingName}
	}

	productURL := resolveURL(pageURL, raw.URL)
	if productURL == "" {
		productURL = absoluteOnly(pageURL)
	}
	if productURL == "" {
		return nil, &Discard{Reason: DiscardMissingURL}
	}

	var price *float64
	if text := strings.TrimSpace(raw.PriceText); text != "" {
		value, ok := extract.ParsePrice(text)
		if !ok {
			return nil, &Discard{Reason: DiscardUnparsablePrice}
		}
		price = &value
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if currency == "" {
		currency = sites.Currency(pageURL)
	}

	return &Product{
		Name:        name,
		Price:       price,
		Currency:    currency,
		Brand:       strings.TrimSpace(raw.Brand),
		SKU:         strings.TrimSpace(raw.SKU),
		URL:         productURL,
		ImageURL:    resolveURL(pageURL, raw.ImageURL),
		Description: truncate(strings.TrimSpace(raw.Description), maxDescriptionRunes),
	}, nil
}

// resolveURL turns ref into an absolute URL against base. Empty or
// unresolvable refs yield "".
func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return absoluteOnly(ref)
	}
	resolved, err := baseURL.Parse(ref)
	if err != nil {
		return ""
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// absoluteOnly returns raw when it already is an absolute http(s) URL.
func absoluteOnly(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return u.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
