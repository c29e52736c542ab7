package audio

import (
	"fmt"
	"math"
	"sort"

	perr "guardian/internal/errors"
	"guardian/internal/logger"
	"guardian/redact"
)

// Причины пропуска директивы в аудио-режиме
const (
	SkipNotAccepted = "not_accepted"
	SkipEmpty       = "empty_after_clamp"
)

// Config параметры замены интервалов
type Config struct {
	BeepHz         float64
	BeepGainDB     float64
	FallbackHz     float64
	FallbackGainDB float64
}

// DefaultConfig 800 Гц / -20 дБ, запасной тон 400 Гц / -15 дБ
func DefaultConfig() Config {
	return Config{BeepHz: 800, BeepGainDB: -20, FallbackHz: 400, FallbackGainDB: -15}
}

// AppliedInterval интервал, фактически заменённый в буфере
type AppliedInterval struct {
	IDs      []string      `json:"ids"`
	Start    float64       `json:"start_time"`
	End      float64       `json:"end_time"`
	Action   redact.Action `json:"action"`
	Fallback bool          `json:"fallback,omitempty"` // анонимизация не удалась, вставлен тон
	Frames   int           `json:"replacement_frames"`
}

// Report итог применения директив к аудио
type Report struct {
	Applied        []AppliedInterval `json:"applied"`
	Skipped        []redact.Skipped  `json:"skipped"`
	InputDuration  float64           `json:"input_duration"`
	OutputDuration float64           `json:"output_duration"`
}

// interval снимок директивы в исходной временной шкале
type interval struct {
	ids        []string
	start, end float64
	action     redact.Action
}

// Redactor применяет директивы к буферу
type Redactor struct {
	cfg     Config
	shifter Shifter
}

// NewRedactor создаёт редактор; shifter выполняет анонимизацию голоса
func NewRedactor(cfg Config, shifter Shifter) *Redactor {
	return &Redactor{cfg: cfg, shifter: shifter}
}

// Apply заменяет интервалы принятых кандидатов. Все позиции берутся из снимка,
// сделанного до первой правки, и применяются от последнего интервала к первому.
// Ошибочная директива пропускается и попадает в отчёт.
func (r *Redactor) Apply(buf *Buffer, candidates []redact.Candidate) (Report, error) {
	log := logger.Named("audio-redactor")
	report := Report{Applied: []AppliedInterval{}, Skipped: []redact.Skipped{}}
	if buf == nil || buf.SampleRate <= 0 {
		return report, perr.InvalidArgf("empty audio buffer")
	}
	duration := buf.Duration()
	report.InputDuration = duration

	var snapshot []interval
	for i, c := range candidates {
		skip := func(reason, detail string) {
			report.Skipped = append(report.Skipped, redact.Skipped{Index: i, ID: c.ID, Reason: reason, Detail: detail})
			log.Warn().Str("id", c.ID).Str("reason", reason).Str("detail", detail).Msg("directive skipped")
		}
		switch {
		case !c.Accepted:
			skip(SkipNotAccepted, "")
			continue
		case !c.HasInterval():
			skip(perr.ErrorCodeInvalidInterval.String(), "start_time and end_time are required")
			continue
		case math.IsNaN(*c.StartTime) || math.IsNaN(*c.EndTime) || *c.StartTime >= *c.EndTime:
			skip(perr.ErrorCodeInvalidInterval.String(), fmt.Sprintf("start %.3f is not before end %.3f", *c.StartTime, *c.EndTime))
			continue
		case !c.Action.Valid():
			skip(perr.ErrorCodeUnsupportedAction.String(), fmt.Sprintf("action %q", c.Action))
			continue
		}

		start := max(0, *c.StartTime)
		end := min(duration, *c.EndTime)
		if end <= start {
			skip(SkipEmpty, fmt.Sprintf("[%.3f, %.3f) outside [0, %.3f]", *c.StartTime, *c.EndTime, duration))
			continue
		}
		snapshot = append(snapshot, interval{ids: []string{c.ID}, start: start, end: end, action: c.Action})
	}

	merged := mergeIntervals(snapshot)

	// от последнего к первому: ранние позиции не сдвигаются
	sort.Slice(merged, func(i, j int) bool { return merged[i].start > merged[j].start })

	for _, iv := range merged {
		from, to := buf.FrameAt(iv.start), buf.FrameAt(iv.end)
		if to <= from {
			for _, id := range iv.ids {
				report.Skipped = append(report.Skipped, redact.Skipped{Index: -1, ID: id, Reason: SkipEmpty, Detail: "shorter than one sample"})
			}
			continue
		}

		segment, fallback := r.replacement(buf, from, to, iv.action)
		if err := buf.Replace(from, to, segment); err != nil {
			return report, perr.Wrap(err, perr.ErrorCodeIOFailure, "replace audio segment")
		}

		applied := AppliedInterval{
			IDs: iv.ids, Start: iv.start, End: iv.end, Action: iv.action,
			Fallback: fallback, Frames: len(segment[0]),
		}
		report.Applied = append(report.Applied, applied)
		log.Info().Strs("ids", iv.ids).Float64("start", iv.start).Float64("end", iv.end).
			Str("action", string(iv.action)).Bool("fallback", fallback).Msg("interval redacted")
	}

	report.OutputDuration = buf.Duration()
	return report, nil
}

// replacement строит сегмент замены для [from, to). Неудачная анонимизация
// заменяется запасным тоном той же длины.
func (r *Redactor) replacement(buf *Buffer, from, to int, action redact.Action) ([][]float64, bool) {
	n := to - from
	ch := len(buf.Channels)

	switch action {
	case redact.ActionSilence:
		return Silence(ch, n), false
	case redact.ActionBeep:
		return Tone(ch, n, buf.SampleRate, r.cfg.BeepHz, r.cfg.BeepGainDB), false
	}

	if r.shifter != nil {
		original := buf.Slice(from, to)
		out := make([][]float64, ch)
		var err error
		for c := range original {
			if out[c], err = r.shifter.Shift(original[c], buf.SampleRate); err != nil {
				break
			}
		}
		if err == nil && sameLength(out) {
			return out, false
		}
		logger.Named("audio-redactor").Warn().Err(err).Int("frames", n).Msg("anonymize failed, falling back to tone")
	}
	return Tone(ch, n, buf.SampleRate, r.cfg.FallbackHz, r.cfg.FallbackGainDB), true
}

func sameLength(chs [][]float64) bool {
	for _, c := range chs {
		if len(c) != len(chs[0]) || len(c) == 0 {
			return false
		}
	}
	return len(chs) > 0
}

// mergeIntervals объединяет пересекающиеся интервалы; побеждает самое сильное действие
func mergeIntervals(in []interval) []interval {
	if len(in) == 0 {
		return nil
	}
	sorted := append([]interval(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	out := []interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.start >= last.end {
			out = append(out, iv)
			continue
		}
		last.end = max(last.end, iv.end)
		last.ids = append(last.ids, iv.ids...)
		if iv.action.Strength() > last.action.Strength() {
			last.action = iv.action
		}
	}
	return out
}

// RedactFile раскодирует вход, применяет директивы и пишет результат
func (r *Redactor) RedactFile(input, output string, candidates []redact.Candidate) (Report, error) {
	buf, err := Decode(input)
	if err != nil {
		return Report{}, err
	}
	report, err := r.Apply(buf, candidates)
	if err != nil {
		return report, err
	}
	if err := Encode(output, buf); err != nil {
		return report, err
	}
	return report, nil
}
