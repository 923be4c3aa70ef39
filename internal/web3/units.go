package web3

import (
	"fmt"
	"math/big"
	"strings"
)

// EtherDecimals is the number of wei digits in one ether.
const EtherDecimals = 18

// ParseEther converts a decimal ether amount into wei. Empty input is zero.
// Amounts with more than 18 fractional digits are rejected rather than
// rounded.
func ParseEther(amount string) (*big.Int, error) {
	return ParseUnits(amount, EtherDecimals)
}

// ParseUnits converts a decimal amount into its integer base unit.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return new(big.Int), nil
	}
	if strings.HasPrefix(amount, "-") {
		return nil, fmt.Errorf("negative amount %q", amount)
	}
	amount = strings.TrimPrefix(amount, "+")

	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}

	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", decimals-len(frac)), "0")
	if digits == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	return value, nil
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)
	text := abs.String()
	if len(text) <= EtherDecimals {
		text = strings.Repeat("0", EtherDecimals-len(text)+1) + text
	}
	whole := text[:len(text)-EtherDecimals]
	frac := strings.TrimRight(text[len(text)-EtherDecimals:], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
