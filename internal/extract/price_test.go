package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected float64
		ok       bool
	}{
		{name: "Plain dot decimal", text: "29.99", expected: 29.99, ok: true},
		{name: "Plain comma decimal", text: "29,99", expected: 29.99, ok: true},
		{name: "Euro symbol prefix", text: "€ 49,95", expected: 49.95, ok: true},
		{name: "Dollar symbol prefix", text: "$1,299.00", expected: 1299.00, ok: true},
		{name: "German thousands", text: "1.234,56 €", expected: 1234.56, ok: true},
		{name: "English thousands", text: "1,234.56 USD", expected: 1234.56, ok: true},
		{name: "Space grouped thousands", text: "1 234,56 zł", expected: 1234.56, ok: true},
		{name: "Bare integer", text: "999", expected: 999, ok: true},
		{name: "Thousands group without decimals", text: "1.234", expected: 1234, ok: true},
		{name: "Sub one euro comma", text: "0,99", expected: 0.99, ok: true},
		{name: "Zero integer part three decimals", text: "0.999", expected: 0.999, ok: true},
		{name: "Multi group thousands", text: "1,234,567", expected: 1234567, ok: true},
		{name: "Price range takes first", text: "29,99 – 49,99 €", expected: 29.99, ok: true},
		{name: "Single decimal digit", text: "29,9", expected: 29.9, ok: true},
		{name: "Price on request", text: "Preis auf Anfrage", ok: false},
		{name: "Empty string", text: "", ok: false},
		{name: "Words only", text: "free shipping", ok: false},
		{name: "Broken grouping rejected", text: "1,23,4", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePrice(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.expected, got, 0.0001)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "29.99", FormatAmount(29.99))
	assert.Equal(t, "999", FormatAmount(999))
}
