package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = Parse("0.1")
	require.NoError(t, err)
	assert.Equal(t, "0.1", d.String())

	_, err = Parse("1e")
	assert.Error(t, err)
}

func TestFloorNeverRoundsUp(t *testing.T) {
	assert.Equal(t, "0.12345678", Floor(MustParse("0.123456789"), 8).String())
	assert.Equal(t, "1.99", Floor(MustParse("1.999"), 2).String())
	assert.Equal(t, "-1.99", Floor(MustParse("-1.999"), 2).String())
}

func TestFeeConservesGross(t *testing.T) {
	cases := []struct {
		gross, rate string
		places      int32
		fee         string
	}{
		{"100", "0.002", 8, "0.2"},
		{"0.00000003", "0.5", 8, "0.00000001"},
		{"1", "0", 8, "0"},
	}
	for _, tc := range cases {
		gross := MustParse(tc.gross)
		fee, net := Fee(gross, MustParse(tc.rate), tc.places)
		assert.Equal(t, tc.fee, fee.String(), tc.gross)
		assert.True(t, fee.Add(net).Equal(gross), tc.gross)
	}
}

func TestMin(t *testing.T) {
	assert.Equal(t, "1", Min(MustParse("1"), MustParse("2")).String())
	assert.Equal(t, "1", Min(MustParse("2"), MustParse("1")).String())
}
