package money

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad test amount: " + s)
	}
	return v
}

func TestToDisplayAmount(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals uint
		want     string
	}{
		{"zero", "0", 18, "0"},
		{"whole unit", "1000000000000000000", 18, "1"},
		{"one and a half", "1500000000000000000", 18, "1.5"},
		{"sub unit", "100000000000000", 18, "0.0001"},
		{"single wei", "1", 18, "0.000000000000000001"},
		{"trailing zeros trimmed", "1200000000000000000", 18, "1.2"},
		{"negative", "-2500000000000000000", 18, "-2.5"},
		{"no decimals", "42", 0, "42"},
		{"six decimals", "1234567", 6, "1.234567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToDisplayAmount(wei(tt.raw), tt.decimals))
		})
	}
}

func TestFromDisplayAmount(t *testing.T) {
	got, err := FromDisplayAmount("1.5", 18)
	require.NoError(t, err)
	assert.Equal(t, wei("1500000000000000000"), got)

	got, err = FromDisplayAmount("-0.0001", 18)
	require.NoError(t, err)
	assert.Equal(t, wei("-100000000000000"), got)

	_, err = FromDisplayAmount("1.0000000000000000001", 18)
	assert.Error(t, err, "more fractional digits than the scale must be rejected")

	_, err = FromDisplayAmount("", 18)
	assert.Error(t, err)

	_, err = FromDisplayAmount("abc", 18)
	assert.Error(t, err)

	// A sign or a bare decimal point carries no digits and must not parse
	// as zero.
	for _, in := range []string{"-", "+", ".", "-.", "+."} {
		_, err = FromDisplayAmount(in, 18)
		assert.Error(t, err, "input %q", in)
	}
}

// Round-trip property: an integer pushed through its display string comes
// back byte identical, with zero floating-point operations on the path.
func TestDisplayRoundTrip(t *testing.T) {
	cases := []string{
		"0",
		"1",
		"999999999999999999",
		"1000000000000000000",
		"1000000000000000001",
		"123456789123456789123456789",
		"-42000000000000000000",
	}
	for _, c := range cases {
		raw := wei(c)
		back, err := FromDisplayAmount(ToDisplayAmount(raw, 18), 18)
		require.NoError(t, err)
		assert.Zero(t, raw.Cmp(back), "round trip changed %s", c)
	}
}

func TestConvertRateTruncates(t *testing.T) {
	// 1 wei at rate 285000/1e18 truncates to zero, never rounds up.
	got := ConvertRate(big.NewInt(1), big.NewInt(285000), wei("1000000000000000000"))
	assert.Equal(t, int64(0), got.Int64())

	// 2 ETH at 285000 per ETH.
	got = ConvertRate(wei("2000000000000000000"), big.NewInt(285000), wei("1000000000000000000"))
	assert.Equal(t, int64(570000), got.Int64())
}

func TestComputeOrderTotal(t *testing.T) {
	// 40 kWh at 100_000_000_000_000 wei per kWh, unit scale 1.
	total := ComputeOrderTotal(big.NewInt(40), wei("100000000000000"), big.NewInt(1))
	assert.Equal(t, wei("4000000000000000"), total)

	// Multiply-before-divide: intermediate factors must not truncate.
	total = ComputeOrderTotal(wei("500000000000000000"), big.NewInt(3), wei("1000000000000000000"))
	assert.Equal(t, int64(1), total.Int64())
}

func TestPlatformFee(t *testing.T) {
	kwh := big.NewInt(40)
	price := wei("100000000000000")
	scale := big.NewInt(1)
	base := ComputeOrderTotal(kwh, price, scale)

	fee := PlatformFee(new(big.Int).Add(base, big.NewInt(250)), kwh, price, scale)
	assert.Equal(t, int64(250), fee.Int64())

	// An on-chain total below the plain product clamps to zero.
	fee = PlatformFee(new(big.Int).Sub(base, big.NewInt(1)), kwh, price, scale)
	assert.Equal(t, int64(0), fee.Int64())
}

func TestRate(t *testing.T) {
	_, err := NewRate("bogus", "1")
	assert.Error(t, err)

	_, err = NewRate("285000", "0")
	assert.Error(t, err, "zero denominator must be rejected")

	r, err := NewRate("285000", "1000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(285000), r.Apply(wei("1000000000000000000")).Int64())
}

func TestDisplayDecimal(t *testing.T) {
	d := DisplayDecimal(wei("1500000000000000000"), 18)
	assert.Equal(t, "1.5", d.String())
	assert.True(t, DisplayDecimal(nil, 18).IsZero())
}
