// Package fetch provides the page-fetching contract the extraction
// pipeline consumes. A Fetcher returns rendered HTML for a URL or a
// typed Failure; the pipeline never cares whether the HTML came from a
// headless browser or a managed unlocking gateway.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a fetch failure.
type Kind string

const (
	// KindBlocked means the response carries a bot-detection signature:
	// a challenge page, or a body far smaller than any rendered listing.
	KindBlocked Kind = "blocked"
	// KindTimeout means the fetch did not complete within its budget.
	KindTimeout Kind = "timeout"
	// KindHTTPError covers transport errors and non-success status codes.
	KindHTTPError Kind = "http_error"
)

// Failure is the typed error a Fetcher returns for an unusable page.
type Failure struct {
	Kind   Kind
	URL    string
	Detail string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("fetch %s: %s (%s)", f.Kind, f.URL, f.Detail)
}

// FailureOf unwraps err into a *Failure if one is in its chain.
func FailureOf(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Result holds a successfully fetched, rendered page.
type Result struct {
	URL        string // final URL after redirects
	HTML       string
	StatusCode int
	Elapsed    time.Duration
}

// Fetcher retrieves a rendered page. Implementations must honor ctx
// cancellation and deadlines, and must classify blocked responses via
// a Classifier so every implementation agrees on what "blocked" means.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
	Close() error
}
