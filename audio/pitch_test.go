package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, freq float64, rate int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func TestResampleShifterLength(t *testing.T) {
	s := ResampleShifter{Ratio: 1.26, Tempo: 0.794}
	in := sine(16000, 220, 16000)

	out, err := s.Shift(in, 16000)
	require.NoError(t, err)
	assert.Equal(t, s.OutputLength(len(in)), len(out))
	assert.Equal(t, int(math.Round(16000/1.26/0.794)), len(out))

	for _, v := range out {
		require.LessOrEqual(t, math.Abs(v), 0.5+1e-9, "weighted average never exceeds input peak")
	}
}

func TestStretchPreservesLevel(t *testing.T) {
	in := make([]float64, 4096)
	for i := range in {
		in[i] = 0.25
	}
	out, err := stretch(in, 5000)
	require.NoError(t, err)
	require.Len(t, out, 5000)
	assert.InDelta(t, 0.25, out[2500], 1e-9)
	assert.InDelta(t, 0.25, out[1], 1e-9)
}

func TestResampleShifterTooShort(t *testing.T) {
	s := ResampleShifter{Ratio: 1.26, Tempo: 0.794}
	_, err := s.Shift(make([]float64, FrameSize-1), 16000)
	assert.ErrorIs(t, err, ErrSegmentTooShort)

	// после передискретизации короче окна
	_, err = s.Shift(make([]float64, FrameSize+10), 16000)
	assert.ErrorIs(t, err, ErrSegmentTooShort)

	_, err = ResampleShifter{}.Shift(make([]float64, 4096), 16000)
	assert.Error(t, err)
}

func TestResampleLinear(t *testing.T) {
	out := resampleLinear([]float64{0, 1, 2, 3}, 2)
	assert.Equal(t, []float64{0, 2}, out)

	out = resampleLinear([]float64{0, 1}, 0.5)
	assert.Equal(t, []float64{0, 0.5, 1, 1}, out)
}

func TestToneAndSilence(t *testing.T) {
	tone := Tone(2, 100, 8000, 800, -20)
	require.Len(t, tone, 2)
	assert.Equal(t, tone[0], tone[1])
	assert.InDelta(t, 0.1, DBToAmplitude(-20), 1e-12)
	for _, v := range tone[0] {
		assert.LessOrEqual(t, math.Abs(v), 0.1+1e-12)
	}
	assert.Equal(t, [][]float64{{0, 0}, {0, 0}}, Silence(2, 2))
}
