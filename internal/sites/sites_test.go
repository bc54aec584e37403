package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"Simple de domain", "https://www.zalando.de/herren-home/", "Zalando"},
		{"Amazon dp URL", "https://www.amazon.de/dp/B0TEST1234", "Amazon"},
		{"co.uk domain", "https://www.argos.co.uk/browse/", "Argos"},
		{"Subdomain shop", "https://shop.mango.com/de", "Mango"},
		{"Mobile subdomain", "https://m.hm.com/de_de/herren.html", "Hm"},
		{"Plain com", "https://uniqlo.com/us/en/men", "Uniqlo"},
		{"No scheme path only", "not a url at all", "not a url at all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Label(tt.url))
		})
	}
}

func TestCurrency(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://www.amazon.de/s?k=jeans", "EUR"},
		{"https://www.asos.co.uk/men/", "GBP"},
		{"https://www.digitec.ch/", "CHF"},
		{"https://www.bol.nl/", "EUR"},
		{"https://www.target.com/", "USD"},
		{"https://allegro.pl/kategoria", "PLN"},
		{"", "USD"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, Currency(tt.url))
		})
	}
}
