package claims_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"foodrescue/internal/services/claims"
)

func TestCoerceQuantity(t *testing.T) {
	tests := map[string]int{
		"3":       3,
		" 12 ":    12,
		"2 porsi": 2,
		"x1y0":    10,
		"-5":      5,
		"abc":     1,
		"":        1,
		"0":       1,
		"00":      1,
		"1.5":     15,
	}
	for in, want := range tests {
		assert.Equal(t, want, claims.CoerceQuantity(in), "input %q", in)
	}
}

func TestParseQuantity(t *testing.T) {
	n, err := claims.ParseQuantity("two", false)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = claims.ParseQuantity(" 4 ", true)
	assert.NoError(t, err)
	assert.Equal(t, 4, n)

	for _, in := range []string{"two", "0", "-1", "1.5", ""} {
		_, err = claims.ParseQuantity(in, true)
		assert.ErrorIs(t, err, claims.ErrInvalidQuantity, "input %q", in)
	}
}
