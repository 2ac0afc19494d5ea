package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

const etherDecimals = 18

var weiPerEther = new(big.Int).SetUint64(params.Ether)

// ParseEther converts a decimal ether amount ("0.0001") to wei.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("amount %q: must not be negative", s)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > etherDecimals {
		return nil, fmt.Errorf("amount %q: more than %d decimals", s, etherDecimals)
	}
	frac += strings.Repeat("0", etherDecimals-len(frac))

	wei, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || wei.Sign() < 0 {
		return nil, fmt.Errorf("amount %q: not a decimal number", s)
	}
	return wei, nil
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)

	q, r := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))
	out := q.String()
	if r.Sign() != 0 {
		out += "." + strings.TrimRight(padFraction(r), "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}

// FormatEtherFixed renders wei with exactly places decimals, truncating.
// places is clamped to [0, 18].
func FormatEtherFixed(wei *big.Int, places int) string {
	if wei == nil {
		wei = new(big.Int)
	}
	places = max(0, min(places, etherDecimals))
	q, r := new(big.Int).QuoRem(new(big.Int).Abs(wei), weiPerEther, new(big.Int))
	frac := padFraction(r)[:places]
	sign := ""
	if wei.Sign() < 0 {
		sign = "-"
	}
	if places == 0 {
		return sign + q.String()
	}
	return sign + q.String() + "." + frac
}

func padFraction(r *big.Int) string {
	digits := r.String()
	return strings.Repeat("0", etherDecimals-len(digits)) + digits
}
