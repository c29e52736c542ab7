// Package audio декодирует и кодирует звуковые файлы и применяет к их временной
// шкале директивы редактирования: тишина, тон или анонимизация голоса.
package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Buffer раскодированный звук: по слайсу сэмплов [-1, 1] на канал
type Buffer struct {
	SampleRate int
	Channels   [][]float64
}

// NewBuffer создаёт тишину заданной длины
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	b := &Buffer{SampleRate: sampleRate, Channels: make([][]float64, channels)}
	for i := range b.Channels {
		b.Channels[i] = make([]float64, frames)
	}
	return b
}

// Frames количество сэмплов на канал
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration длительность в секундах
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// FrameAt переводит секунды в индекс сэмпла с ограничением [0, Frames]
func (b *Buffer) FrameAt(sec float64) int {
	i := int(math.Round(sec * float64(b.SampleRate)))
	return max(0, min(i, b.Frames()))
}

// Slice копия фрагмента [from, to) по всем каналам
func (b *Buffer) Slice(from, to int) [][]float64 {
	out := make([][]float64, len(b.Channels))
	for c, ch := range b.Channels {
		out[c] = append([]float64(nil), ch[from:to]...)
	}
	return out
}

// Replace заменяет фрагмент [from, to) на segment; длина сегмента может
// отличаться от длины фрагмента, всё после него сдвигается
func (b *Buffer) Replace(from, to int, segment [][]float64) error {
	if len(segment) != len(b.Channels) {
		return fmt.Errorf("segment has %d channels, buffer has %d", len(segment), len(b.Channels))
	}
	if from < 0 || to > b.Frames() || from > to {
		return fmt.Errorf("invalid range [%d, %d) for %d frames", from, to, b.Frames())
	}
	for c, ch := range b.Channels {
		seg := segment[c]
		if len(seg) == to-from {
			copy(ch[from:to], seg)
			continue
		}
		out := make([]float64, 0, len(ch)-(to-from)+len(seg))
		out = append(out, ch[:from]...)
		out = append(out, seg...)
		out = append(out, ch[to:]...)
		b.Channels[c] = out
	}
	return nil
}

// Mono среднее по каналам в float32 для распознавания речи
func (b *Buffer) Mono() []float32 {
	n := b.Frames()
	if n == 0 {
		return nil
	}
	sum := make([]float64, n)
	for _, ch := range b.Channels {
		floats.Add(sum, ch)
	}
	floats.Scale(1/float64(len(b.Channels)), sum)

	out := make([]float32, n)
	for i, v := range sum {
		out[i] = float32(v)
	}
	return out
}

// Resample линейная интерполяция до новой частоты
func (b *Buffer) Resample(rate int) *Buffer {
	if rate == b.SampleRate || rate <= 0 {
		return b
	}
	out := &Buffer{SampleRate: rate, Channels: make([][]float64, len(b.Channels))}
	for c, ch := range b.Channels {
		out.Channels[c] = resampleLinear(ch, float64(b.SampleRate)/float64(rate))
	}
	return out
}

// resampleLinear ratio > 1 укорачивает сигнал (и повышает тон при той же частоте)
func resampleLinear(samples []float64, ratio float64) []float64 {
	if ratio == 1 {
		return append([]float64(nil), samples...)
	}
	newLen := int(float64(len(samples)) / ratio)
	out := make([]float64, newLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		if idx+1 < len(samples) {
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		} else if idx < len(samples) {
			out[i] = samples[idx]
		}
	}
	return out
}
