package extract

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// lastPriceToken scans line left to right for non-overlapping price tokens
// and returns the bounds of the last one.
//
// A price token is 1-3 digits, any number of thousands groups (separator
// plus exactly three digits) and a required decimal part (separator plus
// exactly two digits). Both '.' and ',' are accepted as separators.
func lastPriceToken(line string) (start, end int, ok bool) {
	for i := 0; i < len(line); {
		e := priceAt(line, i)
		if e < 0 {
			i++
			continue
		}
		start, end, ok = i, e, true
		i = e
	}
	return start, end, ok
}

// priceAt returns the end of the price token starting at i, or -1.
// Thousands groups are taken greedily and given back one at a time until
// a decimal part fits, so "1.234" reads as "1.23".
func priceAt(s string, i int) int {
	n := digitRun(s, i)
	if n == 0 || n > 3 {
		return -1
	}

	groupEnds := []int{i + n}
	for p := i + n; isSeparator(s, p) && digitRun(s, p+1) >= 3; {
		p += 4
		groupEnds = append(groupEnds, p)
	}

	for j := len(groupEnds) - 1; j >= 0; j-- {
		p := groupEnds[j]
		if isSeparator(s, p) && digitRun(s, p+1) >= 2 {
			return p + 3
		}
	}
	return -1
}

func digitRun(s string, i int) int {
	n := 0
	for i+n < len(s) && s[i+n] >= '0' && s[i+n] <= '9' {
		n++
	}
	return n
}

func isSeparator(s string, i int) bool {
	return i < len(s) && (s[i] == '.' || s[i] == ',')
}

// normalizePrice rewrites a token so '.' is the only separator and every
// '.' but the last one is dropped
func normalizePrice(token string) string {
	s := strings.ReplaceAll(strings.TrimSpace(token), ",", ".")
	if strings.Count(s, ".") > 1 {
		parts := strings.Split(s, ".")
		s = strings.Join(parts[:len(parts)-1], "") + "." + parts[len(parts)-1]
	}
	return s
}

func parsePrice(token string) (decimal.Decimal, error) {
	normalized := normalizePrice(token)
	price, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing price %q: %w", normalized, err)
	}
	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative price %q", normalized)
	}
	return price, nil
}
