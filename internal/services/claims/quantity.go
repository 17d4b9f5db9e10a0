package claims

import (
	"strconv"
	"strings"
)

// CoerceQuantity turns free-text quantity input into a claim quantity by
// dropping every non-digit. Input with no digits, or only zeros, becomes 1.
func CoerceQuantity(raw string) int {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// ParseQuantity is CoerceQuantity in lenient mode. In strict mode anything
// other than a plain positive integer is ErrInvalidQuantity.
func ParseQuantity(raw string, strict bool) (int, error) {
	if !strict {
		return CoerceQuantity(raw), nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 0, ErrInvalidQuantity
	}
	return n, nil
}
