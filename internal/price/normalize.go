// Package price turns marketplace price text into numbers.
package price

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

// Normalize strips everything except digits and decimal separators from raw
// and parses what is left. "1 299,90 ₽" and "1299.90 RUB" both yield 1299.90.
//
// When '.' and ',' both occur, the rightmost one is the decimal separator and
// the other is digit grouping. A separator that occurs more than once with no
// other separator present is grouping ("1,234,567"). No currency conversion
// is performed.
func Normalize(raw string) (float64, error) {
	kept := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, raw)
	if !strings.ContainsAny(kept, "0123456789") {
		return 0, fmt.Errorf("%w: no digits in %q", tracker.ErrPriceFormat, raw)
	}

	canonical, err := canonicalize(kept)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", tracker.ErrPriceFormat, raw, err)
	}
	value, err := strconv.ParseFloat(canonical, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", tracker.ErrPriceFormat, raw, err)
	}
	return value, nil
}

func canonicalize(s string) (string, error) {
	last := strings.LastIndexAny(s, ".,")
	if last < 0 {
		return s, nil
	}
	decimal := s[last : last+1]
	grouping := ","
	if decimal == "," {
		grouping = "."
	}

	if !strings.Contains(s, grouping) && strings.Count(s, decimal) > 1 {
		return strings.ReplaceAll(s, decimal, ""), nil
	}
	s = strings.ReplaceAll(s, grouping, "")
	if strings.Count(s, decimal) > 1 {
		return "", fmt.Errorf("ambiguous separators")
	}
	return strings.Replace(s, decimal, ".", 1), nil
}
