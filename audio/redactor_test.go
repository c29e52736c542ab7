package audio

import (
	"errors"
	"testing"

	perr "guardian/internal/errors"
	"guardian/redact"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 8000

// rampBuffer моно буфер, где значение сэмпла кодирует его исходную позицию
func rampBuffer(seconds float64) *Buffer {
	n := int(seconds * testRate)
	b := NewBuffer(testRate, 1, n)
	for i := range b.Channels[0] {
		b.Channels[0][i] = float64(i+1) / float64(n+1)
	}
	return b
}

func accepted(id string, start, end float64, action redact.Action) redact.Candidate {
	return redact.Candidate{ID: id, StartTime: redact.Seconds(start), EndTime: redact.Seconds(end), Action: action, Accepted: true}
}

type failingShifter struct{}

func (failingShifter) Shift([]float64, int) ([]float64, error) { return nil, errors.New("no pitch") }

// halfShifter возвращает фрагмент половинной длины
type halfShifter struct{}

func (halfShifter) Shift(s []float64, _ int) ([]float64, error) { return append([]float64(nil), s[:len(s)/2]...), nil }

func TestApplySilenceAndBeepKeepDuration(t *testing.T) {
	buf := rampBuffer(4)
	orig := append([]float64(nil), buf.Channels[0]...)
	r := NewRedactor(DefaultConfig(), nil)

	report, err := r.Apply(buf, []redact.Candidate{
		accepted("a", 1.0, 1.5, redact.ActionSilence),
		accepted("b", 2.0, 2.5, redact.ActionBeep),
	})
	require.NoError(t, err)
	require.Len(t, report.Applied, 2)
	assert.Equal(t, "b", report.Applied[0].IDs[0], "latest interval first")
	assert.Equal(t, 4.0, report.OutputDuration)

	ch := buf.Channels[0]
	for i := 8000; i < 12000; i++ {
		require.Zero(t, ch[i])
	}
	for i := 16000; i < 20000; i++ {
		require.LessOrEqual(t, ch[i], DBToAmplitude(-20)+1e-12)
	}
	assert.Equal(t, orig[:8000], ch[:8000], "untouched before")
	assert.Equal(t, orig[12000:16000], ch[12000:16000], "untouched between")
	assert.Equal(t, orig[20000:], ch[20000:], "untouched after")
}

func TestApplyDescendingKeepsEarlierPositions(t *testing.T) {
	buf := rampBuffer(4)
	orig := append([]float64(nil), buf.Channels[0]...)
	r := NewRedactor(DefaultConfig(), halfShifter{})

	report, err := r.Apply(buf, []redact.Candidate{
		accepted("early", 0.5, 1.0, redact.ActionSilence),
		accepted("late", 2.0, 3.0, redact.ActionAnonymize),
	})
	require.NoError(t, err)
	require.Len(t, report.Applied, 2)

	// длина = исходная - интервалы + замены
	want := 32000 - 4000 - 8000 + 4000 + 4000
	assert.Equal(t, want, buf.Frames())
	assert.InDelta(t, float64(want)/testRate, report.OutputDuration, 1e-9)

	ch := buf.Channels[0]
	for i := 4000; i < 8000; i++ {
		require.Zero(t, ch[i], "early interval silenced at its original position")
	}
	assert.Equal(t, orig[8000:16000], ch[8000:16000])
	assert.Equal(t, orig[24000:], ch[20000:], "tail shifted by replacement length")
}

func TestApplyDropsInvalidDirectives(t *testing.T) {
	buf := rampBuffer(2)
	r := NewRedactor(DefaultConfig(), nil)

	report, err := r.Apply(buf, []redact.Candidate{
		accepted("inverted", 2.0, 1.0, redact.ActionSilence),
		accepted("action", 0.1, 0.2, redact.Action("scramble")),
		{ID: "missing", Action: redact.ActionBeep, Accepted: true},
		{ID: "rejected", StartTime: redact.Seconds(0), EndTime: redact.Seconds(1), Action: redact.ActionBeep},
		accepted("outside", 5, 6, redact.ActionBeep),
	})
	require.NoError(t, err)
	assert.Empty(t, report.Applied)
	assert.Equal(t, 2.0, report.OutputDuration)

	reasons := map[string]string{}
	for _, s := range report.Skipped {
		reasons[s.ID] = s.Reason
	}
	assert.Equal(t, map[string]string{
		"inverted": perr.ErrorCodeInvalidInterval.String(),
		"action":   perr.ErrorCodeUnsupportedAction.String(),
		"missing":  perr.ErrorCodeInvalidInterval.String(),
		"rejected": SkipNotAccepted,
		"outside":  SkipEmpty,
	}, reasons)
}

func TestApplyClampsToDuration(t *testing.T) {
	buf := rampBuffer(2)
	r := NewRedactor(DefaultConfig(), nil)

	report, err := r.Apply(buf, []redact.Candidate{accepted("tail", 1.5, 10, redact.ActionSilence)})
	require.NoError(t, err)
	require.Len(t, report.Applied, 1)
	assert.Equal(t, 2.0, report.Applied[0].End)
	assert.Equal(t, 16000, buf.Frames())
	assert.Zero(t, buf.Channels[0][15999])
}

func TestApplyAnonymizeFallsBackToTone(t *testing.T) {
	buf := rampBuffer(2)
	r := NewRedactor(DefaultConfig(), failingShifter{})

	report, err := r.Apply(buf, []redact.Candidate{accepted("x", 0.5, 1.0, redact.ActionAnonymize)})
	require.NoError(t, err)
	require.Len(t, report.Applied, 1)
	assert.True(t, report.Applied[0].Fallback)
	assert.Equal(t, 16000, buf.Frames())

	peak := 0.0
	for _, v := range buf.Channels[0][4000:8000] {
		peak = max(peak, v)
	}
	assert.InDelta(t, DBToAmplitude(-15), peak, 0.01)
}

func TestApplyMergesOverlaps(t *testing.T) {
	buf := rampBuffer(3)
	r := NewRedactor(DefaultConfig(), nil)

	report, err := r.Apply(buf, []redact.Candidate{
		accepted("a", 0.5, 1.5, redact.ActionBeep),
		accepted("b", 1.0, 2.0, redact.ActionSilence),
	})
	require.NoError(t, err)
	require.Len(t, report.Applied, 1)
	got := report.Applied[0]
	assert.Equal(t, []string{"a", "b"}, got.IDs)
	assert.Equal(t, redact.ActionSilence, got.Action, "strongest action wins")
	assert.Equal(t, 0.5, got.Start)
	assert.Equal(t, 2.0, got.End)
	for _, v := range buf.Channels[0][4000:16000] {
		require.Zero(t, v)
	}
}

func TestMergeIntervalsTouchingStaySeparate(t *testing.T) {
	got := mergeIntervals([]interval{
		{ids: []string{"b"}, start: 1, end: 2, action: redact.ActionBeep},
		{ids: []string{"a"}, start: 0, end: 1, action: redact.ActionSilence},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ids[0])
}

func TestApplyEmptyBuffer(t *testing.T) {
	_, err := NewRedactor(DefaultConfig(), nil).Apply(nil, nil)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
}
