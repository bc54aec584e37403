// Package sites derives display metadata for a storefront from its URL:
// a human-readable label used to group results, and the currency a site
// most likely prices in when a record carries none.
package sites

import (
	"net/url"
	"strings"
	"unicode"
)

// hostPrefixes are subdomain labels that carry no brand information.
var hostPrefixes = []string{"www.", "www2.", "m.", "shop.", "store.", "en."}

// tldSuffixes are host labels treated as TLD plumbing rather than brand.
var tldSuffixes = map[string]bool{
	"com": true, "net": true, "org": true, "co": true, "io": true,
	"de": true, "at": true, "ch": true, "fr": true, "it": true,
	"es": true, "nl": true, "be": true, "pl": true, "se": true,
	"dk": true, "no": true, "fi": true, "pt": true, "ie": true,
	"uk": true, "us": true, "ca": true, "au": true, "nz": true,
	"jp": true, "in": true, "br": true, "mx": true, "eu": true,
	"shop": true, "store": true,
}

// currencyByTLD maps country-code TLDs to the currency a local storefront
// prices in. Deliberately coarse; sites that tag prices themselves win.
var currencyByTLD = map[string]string{
	"de": "EUR", "at": "EUR", "fr": "EUR", "it": "EUR", "es": "EUR",
	"nl": "EUR", "be": "EUR", "pt": "EUR", "ie": "EUR", "fi": "EUR",
	"eu": "EUR",
	"uk": "GBP",
	"ch": "CHF",
	"pl": "PLN",
	"se": "SEK",
	"dk": "DKK",
	"no": "NOK",
	"jp": "JPY",
	"ca": "CAD",
	"au": "AUD",
	"in": "INR",
	"br": "BRL",
	"mx": "MXN",
}

// Label derives a display name from a listing URL, e.g.
// "https://www.zalando.de/herren" -> "Zalando". An unparsable URL falls
// back to the raw input so events always carry something identifiable.
func Label(rawURL string) string {
	host := hostname(rawURL)
	if host == "" {
		return rawURL
	}

	for _, p := range hostPrefixes {
		if strings.HasPrefix(host, p) && len(host) > len(p) {
			host = host[len(p):]
			break
		}
	}

	parts := strings.Split(host, ".")
	for len(parts) > 1 && tldSuffixes[parts[len(parts)-1]] {
		parts = parts[:len(parts)-1]
	}

	name := parts[len(parts)-1]
	if name == "" {
		return host
	}

	return capitalize(name)
}

// Currency guesses the ISO currency code for a site from its TLD.
// Unknown TLDs (including .com) default to USD.
func Currency(rawURL string) string {
	host := hostname(rawURL)
	if host == "" {
		return "USD"
	}

	parts := strings.Split(host, ".")
	tld := parts[len(parts)-1]
	if c, ok := currencyByTLD[tld]; ok {
		return c
	}
	return "USD"
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func capitalize(s string) string {
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
