// Package product defines the canonical extracted record and the
// normalization step that produces it from raw strategy output.
package product

import (
	"strings"

	"github.com/maltedev/shophound/internal/extract"
)

// Product is the canonical record handed to consumers. Name and URL
// are always non-empty; Price is nil when the source page showed none.
// Records are immutable once normalized.
type Product struct {
	Name        string   `json:"name"`
	Price       *float64 `json:"price"`
	Currency    string   `json:"currency"`
	Brand       string   `json:"brand,omitempty"`
	SKU         string   `json:"sku,omitempty"`
	URL         string   `json:"url"`
	ImageURL    string   `json:"image_url,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Key builds the run-scoped deduplication key: case-insensitive,
// whitespace-collapsed name, plus site label and price. The label is
// part of the key, so the same name and price on two different sites
// stays two products.
func Key(name, siteLabel string, price *float64) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(name)), " ")
	priceText := ""
	if price != nil {
		priceText = extract.FormatAmount(*price)
	}
	return normalized + "|" + siteLabel + "|" + priceText
}
