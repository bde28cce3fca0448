package govna

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVSWR(t *testing.T) {
	assert.Equal(t, 1.0, VSWR(0))
	assert.InDelta(t, 3.0, VSWR(complex(0, 0.5)), 1e-12)
	assert.Equal(t, 9999.0, VSWR(1))
	assert.Equal(t, 9999.0, VSWR(complex(0, -1.2)))
}

func TestReturnLoss(t *testing.T) {
	assert.InDelta(t, -20.0, ReturnLoss(0.1), 1e-9)
	assert.True(t, math.IsInf(ReturnLoss(0), -1))
}

func TestImpedanceRoundTrip(t *testing.T) {
	assert.Equal(t, complex(50, 0), Impedance(0, ReferenceImpedance))
	assert.InDelta(t, 75.0, real(Impedance(0.2, ReferenceImpedance)), 1e-9)
	assert.True(t, cmplx.IsInf(Impedance(1, ReferenceImpedance)))

	z := complex(30, -12)
	gamma := ReflectionCoefficient(z, ReferenceImpedance)
	back := Impedance(gamma, ReferenceImpedance)
	assert.InDelta(t, real(z), real(back), 1e-9)
	assert.InDelta(t, imag(z), imag(back), 1e-9)
}

func TestSweep_MinVSWR(t *testing.T) {
	sweep, err := NewSweep("vswr", []DataPoint{
		{Frequency: 7_000_000, S11: 0.5},
		{Frequency: 7_100_000, S11: 0.1},
		{Frequency: 7_200_000, S11: complex(0, 0.3)},
	})
	require.NoError(t, err)

	idx, best := sweep.MinVSWR()
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 1.1/0.9, best, 1e-12)
	assert.Len(t, sweep.CalculateVSWR(), 3)
}

func TestParseFrequency(t *testing.T) {
	for text, want := range map[string]uint64{
		"14.2M":    14_200_000,
		"144 MHz":  144_000_000,
		"7000k":    7_000_000,
		"3500000":  3_500_000,
		"1.5G":     1_500_000_000,
		"2.4 GHz":  2_400_000_000,
		"500Hz":    500,
		" 50 kHz ": 50_000,
	} {
		got, err := ParseFrequency(text)
		require.NoError(t, err, text)
		assert.Equal(t, want, got, text)
	}

	got, err := ParseFrequency("1e19")
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000_000_000_000), got)

	for _, text := range []string{"", "abc", "-5", "MHz", "1.2.3M", "1e20", "18446744073709551616", "20000000000G"} {
		_, err := ParseFrequency(text)
		assert.Error(t, err, text)
	}
}

func TestFormatFrequency(t *testing.T) {
	assert.Equal(t, "14.200 MHz", FormatFrequency(14_200_000))
	assert.Equal(t, "500 Hz", FormatFrequency(500))
	assert.Equal(t, "2.400 GHz", FormatFrequency(2_400_000_000))
	assert.Equal(t, "- Hz", FormatFrequency(0))
}
