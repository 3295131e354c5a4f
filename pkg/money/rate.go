package money

import (
	"fmt"
	"math/big"
)

// Rate is an exchange rate expressed as an integer fraction so conversions
// stay in big.Int arithmetic end to end.
type Rate struct {
	Num *big.Int
	Den *big.Int
}

// NewRate builds a rate from decimal strings, e.g. num="285000", den="1"
// for 285000 display units per nominal chain unit.
func NewRate(num, den string) (Rate, error) {
	n, ok := new(big.Int).SetString(num, 10)
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate numerator %q", num)
	}
	d, ok := new(big.Int).SetString(den, 10)
	if !ok || d.Sign() == 0 {
		return Rate{}, fmt.Errorf("invalid rate denominator %q", den)
	}
	return Rate{Num: n, Den: d}, nil
}

// Apply converts a wei-scaled amount into the rate's display currency,
// still wei-scaled. Truncates, never rounds up.
func (r Rate) Apply(amount *big.Int) *big.Int {
	return ConvertRate(amount, r.Num, r.Den)
}

// RateSource supplies the current display-currency rate. Injected so the
// query layer can swap a live feed in without touching stored chain data.
type RateSource interface {
	Rate() Rate
	Currency() string
}

// StaticRateSource is a fixed RateSource, typically built from configuration.
type StaticRateSource struct {
	rate     Rate
	currency string
}

// NewStaticRateSource returns a RateSource that always reports rate.
func NewStaticRateSource(rate Rate, currency string) *StaticRateSource {
	return &StaticRateSource{rate: rate, currency: currency}
}

func (s *StaticRateSource) Rate() Rate       { return s.rate }
func (s *StaticRateSource) Currency() string { return s.currency }
