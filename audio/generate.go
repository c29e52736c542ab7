package audio

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Silence сегмент тишины на все каналы
func Silence(channels, frames int) [][]float64 {
	out := make([][]float64, channels)
	for c := range out {
		out[c] = make([]float64, frames)
	}
	return out
}

// Tone синусоида freq Гц с уровнем gainDB относительно полной шкалы
func Tone(channels, frames, sampleRate int, freq, gainDB float64) [][]float64 {
	wave := make([]float64, frames)
	step := 2 * math.Pi * freq / float64(sampleRate)
	for i := range wave {
		wave[i] = math.Sin(step * float64(i))
	}
	floats.Scale(DBToAmplitude(gainDB), wave)

	out := make([][]float64, channels)
	for c := range out {
		out[c] = append([]float64(nil), wave...)
	}
	return out
}

// DBToAmplitude -20 дБ = 0.1
func DBToAmplitude(db float64) float64 {
	return math.Pow(10, db/20)
}
