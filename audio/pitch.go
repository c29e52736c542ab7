package audio

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// FrameSize окно перекрытия-сложения для растяжения по времени
const FrameSize = 1024

// ErrSegmentTooShort фрагмент короче окна анализа
var ErrSegmentTooShort = errors.New("segment shorter than analysis frame")

// Shifter преобразует голос в фрагменте; результат может отличаться по длине
type Shifter interface {
	Shift(samples []float64, sampleRate int) ([]float64, error)
}

// ResampleShifter повышает тон передискретизацией с коэффициентом Ratio,
// затем растягивает по времени с темпом Tempo перекрытием-сложением окон Ханна
type ResampleShifter struct {
	Ratio float64
	Tempo float64
}

// OutputLength длина результата для фрагмента из n сэмплов
func (s ResampleShifter) OutputLength(n int) int {
	return int(math.Round(float64(n) / s.Ratio / s.Tempo))
}

func (s ResampleShifter) Shift(samples []float64, _ int) ([]float64, error) {
	if s.Ratio <= 0 || s.Tempo <= 0 {
		return nil, errors.New("invalid pitch ratio or tempo")
	}
	if len(samples) < FrameSize {
		return nil, ErrSegmentTooShort
	}
	shifted := resampleLinear(samples, s.Ratio)
	return stretch(shifted, s.OutputLength(len(samples)))
}

// stretch перекрытие-сложение: выходные окна идут с шагом FrameSize/4,
// позиция во входе пропорциональна позиции в выходе
func stretch(in []float64, outLen int) ([]float64, error) {
	if len(in) < FrameSize || outLen < FrameSize {
		return nil, ErrSegmentTooShort
	}

	win := make([]float64, FrameSize)
	for i := range win {
		win[i] = 1
	}
	win = window.Hann(win)

	hop := FrameSize / 4
	out := make([]float64, outLen)
	norm := make([]float64, outLen)
	frame := make([]float64, FrameSize)

	var starts []int
	for o := 0; o+FrameSize <= outLen; o += hop {
		starts = append(starts, o)
	}
	if last := starts[len(starts)-1]; last+FrameSize < outLen {
		starts = append(starts, outLen-FrameSize)
	}

	scale := 0.0
	if outLen > FrameSize {
		scale = float64(len(in)-FrameSize) / float64(outLen-FrameSize)
	}
	for _, o := range starts {
		i := int(math.Round(float64(o) * scale))
		floats.MulTo(frame, in[i:i+FrameSize], win)
		floats.Add(out[o:o+FrameSize], frame)
		floats.Add(norm[o:o+FrameSize], win)
	}

	for i := range out {
		if norm[i] > 1e-6 {
			out[i] /= norm[i]
		}
	}
	return out, nil
}
