package fetch

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultBrowserOptions(t *testing.T) {
	opts := DefaultBrowserOptions()

	if !opts.Headless {
		t.Error("Expected headless to be true by default")
	}

	if opts.Timeout != 30*time.Second {
		t.Errorf("Expected timeout to be 30s, got %v", opts.Timeout)
	}

	if opts.ViewportWidth != 1920 || opts.ViewportHeight != 1080 {
		t.Errorf("Expected viewport to be 1920x1080, got %dx%d", opts.ViewportWidth, opts.ViewportHeight)
	}

	if opts.UserAgent == "" {
		t.Error("Expected a default user agent")
	}
}

func TestIsPlaywrightTimeout(t *testing.T) {
	if !isPlaywrightTimeout(errors.New("Timeout 30000ms exceeded")) {
		t.Error("Expected playwright timeout message to be recognized")
	}

	if isPlaywrightTimeout(errors.New("net::ERR_CONNECTION_REFUSED")) {
		t.Error("Expected connection error not to be a timeout")
	}
}
