package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound2(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{1.005, 1.01},
		{1.004, 1},
		{-2.345, -2.35},
		{3.3333, 3.33},
		{0.1 + 0.2, 0.3},
		{100, 100},
		{0, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Round2(tc.in), "Round2(%v)", tc.in)
	}
}

func TestRound2Idempotent(t *testing.T) {
	for _, x := range []float64{0.125, 19.995, -7.777, 1e6 + 0.015, 33.333333, 0.1 + 0.7} {
		once := Round2(x)
		assert.Equal(t, once, Round2(once), "x=%v", x)
	}
}

func TestRound2NonFinite(t *testing.T) {
	assert.True(t, math.IsNaN(Round2(math.NaN())))
	assert.True(t, math.IsInf(Round2(math.Inf(1)), 1))
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(567), ToCents(5.67))
	assert.Equal(t, int64(-567), ToCents(-5.67))
	assert.Equal(t, int64(30), ToCents(0.1+0.2))
	assert.Equal(t, 70.0, FromCents(7000))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$12.30", FormatAmount(12.3))
	assert.Equal(t, "-$5.67", FormatAmount(-5.67))
	assert.Equal(t, "$0.01", FormatAmount(0.005))
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out float64
		ok  bool
	}{
		{"-5.67", -5.67, true},
		{"12", 12, true},
		{" 1,234.50 ", 1234.5, true},
		{"$8.10", 8.1, true},
		{"-$3", -3, true},
		{"1.005", 1.01, true},
		{"", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if !tc.ok {
			require.Error(t, err, "%q", tc.in)
			continue
		}
		require.NoError(t, err, "%q", tc.in)
		assert.Equal(t, tc.out, got, "%q", tc.in)
	}
}
