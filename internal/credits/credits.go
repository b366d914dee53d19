// Package credits handles reward-credit amount parsing, formatting and arithmetic.
//
// Credits are stored and exchanged as fixed-point decimal strings with two
// fractional digits (e.g. "12.50"). Internally all arithmetic runs on
// *big.Int minor units (cents) so balances never accumulate float error.
package credits

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// Decimals is the number of fractional digits in a credit amount.
const Decimals = 2

// unit is 10^Decimals, the number of minor units per credit.
var unit = big.NewInt(100)

// Parse converts a decimal string like "12.50" to minor units (1250).
// Returns an error for invalid formats or negative amounts.
func Parse(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount: %s", s)
	}
	if strings.HasPrefix(s, "+") {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("too many decimal places (max %d): %s", Decimals, s)
	}
	// Pad fractional part to exactly Decimals digits.
	for len(frac) < Decimals {
		frac += "0"
	}

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return n, nil
}

// Format converts minor units to a decimal string with exactly two
// fractional digits. Format(big.NewInt(1250)) == "12.50".
func Format(n *big.Int) string {
	if n == nil {
		return "0.00"
	}
	neg := n.Sign() < 0
	abs := new(big.Int).Abs(n)

	q, r := new(big.Int).QuoRem(abs, unit, new(big.Int))
	s := fmt.Sprintf("%s.%0*d", q.String(), Decimals, r)
	if neg {
		s = "-" + s
	}
	return s
}

// FromFloat converts a non-negative float credit amount to minor units,
// rounding half away from zero. Used where a computed reward (score times
// rate times hours) has to land on a representable balance.
func FromFloat(f float64) (*big.Int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("invalid amount: %v", f)
	}
	if f < 0 {
		return nil, fmt.Errorf("negative amount: %v", f)
	}
	cents := math.Round(f * 100)
	return big.NewInt(int64(cents)), nil
}

// Add returns a+b without mutating either operand.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Sub returns a-b without mutating either operand.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// Cmp compares a and b: -1 if a<b, 0 if equal, 1 if a>b.
func Cmp(a, b *big.Int) int {
	return a.Cmp(b)
}

// Zero returns a fresh zero amount.
func Zero() *big.Int {
	return new(big.Int)
}

// MustParse is Parse but panics on error. For constants and tests only.
func MustParse(s string) *big.Int {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}
