// Package money holds every amount computation that affects settlement
// value. All arithmetic is arbitrary-precision integer math; floating point
// never enters a call path here. On-chain amounts are 18-decimal fixed-point
// integers and float conversion silently loses precision at the 1e-15 scale.
package money

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// WeiDecimals is the fixed-point scale of the chain's native unit.
const WeiDecimals = 18

// UnitScale returns 10^decimals as a big integer.
func UnitScale(decimals uint) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// ToDisplayAmount formats a fixed-point integer amount as a decimal string,
// e.g. 1500000000000000000 with 18 decimals -> "1.5". Division is integer
// div/mod; trailing fractional zeros are trimmed.
func ToDisplayAmount(raw *big.Int, decimals uint) string {
	if raw == nil {
		return "0"
	}
	if decimals == 0 {
		return raw.String()
	}

	neg := raw.Sign() < 0
	abs := new(big.Int).Abs(raw)

	quo, rem := new(big.Int).QuoRem(abs, UnitScale(decimals), new(big.Int))

	out := quo.String()
	if rem.Sign() != 0 {
		frac := fmt.Sprintf("%0*s", decimals, rem.String())
		frac = strings.TrimRight(frac, "0")
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// FromDisplayAmount parses a decimal string back into a fixed-point integer.
// Excess fractional digits beyond the scale are rejected rather than rounded.
func FromDisplayAmount(s string, decimals uint) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("invalid amount: no digits")
	}
	if whole == "" {
		whole = "0"
	}
	if uint(len(frac)) > decimals {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places", s, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if neg {
		out.Neg(out)
	}
	return out, nil
}

// ConvertRate computes amount * rateNum / rateDen, truncating toward zero.
// Truncation is deliberate: a display or settlement conversion must never
// round in the platform's favor.
func ConvertRate(amount, rateNum, rateDen *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, rateNum)
	return out.Quo(out, rateDen)
}

// ComputeOrderTotal computes (kWhAmount * pricePerKwh) / unitScale.
// Multiply-before-divide keeps precision loss to the final truncation.
func ComputeOrderTotal(kWhAmount, pricePerKwh, unitScale *big.Int) *big.Int {
	out := new(big.Int).Mul(kWhAmount, pricePerKwh)
	return out.Quo(out, unitScale)
}

// PlatformFee derives the fee margin baked into an order's total: whatever
// the on-chain total exceeds the plain kWh*price product by, clamped at zero.
func PlatformFee(totalPrice, kWhAmount, pricePerKwh, unitScale *big.Int) *big.Int {
	base := ComputeOrderTotal(kWhAmount, pricePerKwh, unitScale)
	fee := new(big.Int).Sub(totalPrice, base)
	if fee.Sign() < 0 {
		return big.NewInt(0)
	}
	return fee
}

// DisplayDecimal builds a shopspring decimal from a fixed-point integer
// without passing through float64.
func DisplayDecimal(raw *big.Int, decimals uint) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).Set(raw), -int32(decimals))
}
