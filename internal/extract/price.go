package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var priceTokenPattern = regexp.MustCompile(`\d+(?:[\s\x{00A0}\x{202F}.,]\d+)*`)

// ParsePrice extracts a numeric amount from a displayed price string.
// It strips currency symbols and thousands separators and accepts both
// comma and dot decimals ("1.234,56" and "1,234.56" both parse to
// 1234.56). Ambiguous or non-numeric remainders are rejected rather
// than guessed at. For price ranges the first amount wins.
func ParsePrice(text string) (float64, bool) {
	token := priceTokenPattern.FindString(text)
	if token == "" {
		return 0, false
	}

	// Spaces only ever group thousands.
	token = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', ' ', ' ':
			return -1
		}
		return r
	}, token)

	normalized, ok := normalizeSeparators(token)
	if !ok {
		return 0, false
	}

	value, err := strconv.ParseFloat(normalized, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

// normalizeSeparators rewrites token into plain dot-decimal form.
func normalizeSeparators(token string) (string, bool) {
	lastDot := strings.LastIndex(token, ".")
	lastComma := strings.LastIndex(token, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Whichever separator comes last is the decimal mark.
		decimal, thousands := byte('.'), ","
		if lastComma > lastDot {
			decimal, thousands = ',', "."
		}
		if strings.Count(token, string(decimal)) > 1 {
			return "", false
		}
		token = strings.ReplaceAll(token, thousands, "")
		return strings.ReplaceAll(token, string(decimal), "."), true

	case lastComma >= 0:
		return resolveSingleSeparator(token, ',')

	case lastDot >= 0:
		return resolveSingleSeparator(token, '.')

	default:
		return token, true
	}
}

// resolveSingleSeparator decides whether sep marks decimals or
// thousands when it is the only separator kind present.
func resolveSingleSeparator(token string, sep byte) (string, bool) {
	groups := strings.Split(token, string(sep))

	if len(groups) == 2 {
		// "29,99" is decimal; "1,234" is a thousands group unless the
		// integer part is zero ("0,999").
		if len(groups[1]) == 3 && groups[0] != "0" {
			return groups[0] + groups[1], true
		}
		return groups[0] + "." + groups[1], true
	}

	// Multiple identical separators are only valid as thousands
	// grouping, which requires every group after the first to have
	// exactly three digits.
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return "", false
		}
	}
	return strings.Join(groups, ""), true
}

// FormatAmount renders a numeric price the way strategies carry it in
// RawProduct.PriceText.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
