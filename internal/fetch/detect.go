package fetch

import (
	"fmt"
	"strings"
)

// DefaultBlockSizeThreshold is the body size in bytes below which a
// supposedly rendered listing page is treated as a challenge
// interstitial. Empirical; override via config when a target site
// legitimately serves tiny pages.
const DefaultBlockSizeThreshold = 2048

// challengeScanLimit bounds the body size for marker scanning. Challenge
// pages are small; a multi-hundred-KB body that merely loads a captcha
// script for some footer form is real content, not a block.
const challengeScanLimit = 64 << 10

// challengeMarkers are case-insensitive fingerprints of known
// bot-detection challenge pages.
var challengeMarkers = []string{
	"captcha",
	"are you a robot",
	"verify you are human",
	"unusual traffic from your",
	"pardon our interruption",
	"access to this page has been denied",
	"checking your browser before accessing",
	"just a moment...",
	"px-captcha",
	"datadome",
	"klicke auf die schaltfläche unten", // amazon.de interstitial
	"tut uns leid",                      // amazon.de error page
}

// Classifier decides whether a fetched body is a blocked response.
// Shared across Fetcher implementations so they agree on the rules.
type Classifier struct {
	sizeThreshold int
}

// NewClassifier builds a Classifier. A sizeThreshold <= 0 selects
// DefaultBlockSizeThreshold.
func NewClassifier(sizeThreshold int) *Classifier {
	if sizeThreshold <= 0 {
		sizeThreshold = DefaultBlockSizeThreshold
	}
	return &Classifier{sizeThreshold: sizeThreshold}
}

// Blocked reports whether html looks like a bot-detection response and,
// if so, why.
func (c *Classifier) Blocked(html string) (reason string, blocked bool) {
	if len(html) < c.sizeThreshold {
		return fmt.Sprintf("response body %d bytes, below %d byte threshold", len(html), c.sizeThreshold), true
	}

	if len(html) > challengeScanLimit {
		return "", false
	}

	lowered := strings.ToLower(html)
	for _, marker := range challengeMarkers {
		if strings.Contains(lowered, marker) {
			return fmt.Sprintf("challenge marker %q", marker), true
		}
	}

	return "", false
}
