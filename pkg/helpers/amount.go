// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"fmt"
	"math/big"
	"strings"
)

// FormatAmount formats a signed amount in a contract's smallest unit as a
// decimal string. For example, FormatAmount(100000000, 8) returns "1".
func FormatAmount(amount int64, decimals uint8) string {
	neg := amount < 0
	abs := amount
	if neg {
		abs = -amount
	}

	if decimals == 0 {
		if neg {
			return fmt.Sprintf("-%d", abs)
		}
		return fmt.Sprintf("%d", abs)
	}

	amountBig := new(big.Int).SetInt64(abs)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	whole := new(big.Int).Div(amountBig, divisor)
	frac := new(big.Int).Mod(amountBig, divisor)

	sign := ""
	if neg {
		sign = "-"
	}

	if frac.Sign() == 0 {
		return sign + whole.String()
	}

	fracStr := fmt.Sprintf("%0*d", int(decimals), frac)
	fracStr = strings.TrimRight(fracStr, "0")

	return fmt.Sprintf("%s%s.%s", sign, whole.String(), fracStr)
}

// ParseAmount parses a decimal string into a contract's smallest unit.
// For example, ParseAmount("1", 8) returns 100000000.
func ParseAmount(s string, decimals uint8) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount string")
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	} else if s[0] == '+' {
		s = s[1:]
	}

	var wholeStr, fracStr string
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		wholeStr = s[:idx]
		fracStr = s[idx+1:]
	} else {
		wholeStr = s
	}
	if wholeStr == "" {
		wholeStr = "0"
	}

	for _, c := range wholeStr {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid character in amount: %c", c)
		}
	}
	for _, c := range fracStr {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid character in amount: %c", c)
		}
	}

	for len(fracStr) < int(decimals) {
		fracStr += "0"
	}
	if len(fracStr) > int(decimals) {
		fracStr = fracStr[:decimals]
	}

	combined := wholeStr + fracStr
	amount := new(big.Int)
	if _, ok := amount.SetString(combined, 10); !ok {
		return 0, fmt.Errorf("invalid amount: %s", s)
	}

	if !amount.IsInt64() {
		return 0, fmt.Errorf("amount overflow: %s", s)
	}

	v := amount.Int64()
	if neg {
		v = -v
	}
	return v, nil
}
