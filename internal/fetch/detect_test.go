package fetch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifierBlocked(t *testing.T) {
	classifier := NewClassifier(0)

	filler := strings.Repeat("<p>product listing content</p>", 200)

	tests := []struct {
		name    string
		html    string
		blocked bool
	}{
		{
			name:    "Tiny body is an interstitial",
			html:    "<html><body>loading...</body></html>",
			blocked: true,
		},
		{
			name:    "Cloudflare challenge page",
			html:    "<html><head><title>Just a moment...</title></head><body>Checking your browser before accessing</body></html>" + strings.Repeat(" ", 2100),
			blocked: true,
		},
		{
			name:    "Robot check prompt",
			html:    "<html><body><h1>Are you a robot?</h1><p>Type the characters you see.</p></body></html>" + strings.Repeat(" ", 2100),
			blocked: true,
		},
		{
			name:    "PerimeterX marker",
			html:    "<html><body><div id=\"px-captcha\"></div></body></html>" + strings.Repeat(" ", 2100),
			blocked: true,
		},
		{
			name:    "German interstitial",
			html:    "<html><body>Klicke auf die Schaltfläche unten, um mit dem Einkaufen fortzufahren.</body></html>" + strings.Repeat(" ", 2100),
			blocked: true,
		},
		{
			name:    "Normal listing page",
			html:    "<html><body>" + filler + "</body></html>",
			blocked: false,
		},
		{
			name:    "Large page mentioning captcha in a script tag",
			html:    "<html><body><script src=\"https://www.google.com/recaptcha/api.js\"></script>" + strings.Repeat(filler, 15) + "</body></html>",
			blocked: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, blocked := classifier.Blocked(tt.html)
			assert.Equal(t, tt.blocked, blocked)
			if blocked {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestClassifierCustomThreshold(t *testing.T) {
	classifier := NewClassifier(100)

	small := "<html><body>" + strings.Repeat("x", 50) + "</body></html>"
	large := "<html><body>" + strings.Repeat("real content ", 50) + "</body></html>"

	_, blocked := classifier.Blocked(small)
	assert.True(t, blocked, "body under the threshold should be flagged")

	_, blocked = classifier.Blocked(large)
	assert.False(t, blocked, "body over the threshold with no markers should pass")
}

func TestFailureError(t *testing.T) {
	f := &Failure{Kind: KindBlocked, URL: "https://www.zalando.de/herren", Detail: "px-captcha"}
	assert.Contains(t, f.Error(), "blocked")
	assert.Contains(t, f.Error(), "https://www.zalando.de/herren")

	got, ok := FailureOf(f)
	assert.True(t, ok)
	assert.Equal(t, KindBlocked, got.Kind)

	_, ok = FailureOf(assert.AnError)
	assert.False(t, ok)
}
