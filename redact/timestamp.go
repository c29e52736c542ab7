package redact

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxSeconds верхняя граница для числового времени
const MaxSeconds = 10000.0

// ParseTimestamp разбирает время из ответа модели или файла директив:
// число секунд, строку с числом или строку HH:MM:SS.mmm.
func ParseTimestamp(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return checkSeconds(t)
	case float32:
		return checkSeconds(float64(t))
	case int:
		return checkSeconds(float64(t))
	case int64:
		return checkSeconds(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", t.String())
		}
		return checkSeconds(f)
	case string:
		s := strings.TrimSpace(t)
		if strings.Contains(s, ":") {
			return parseClock(s)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", t)
		}
		return checkSeconds(f)
	case nil:
		return 0, fmt.Errorf("timestamp is null")
	default:
		return 0, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func checkSeconds(f float64) (float64, error) {
	if math.IsNaN(f) || f < 0 || f > MaxSeconds {
		return 0, fmt.Errorf("timestamp %v out of range [0, %v]", f, MaxSeconds)
	}
	return f, nil
}

// parseClock HH:MM:SS(.mmm), 0<=H<=23, 0<=M<=59, 0<=S<60
func parseClock(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp format %q, expected HH:MM:SS.mmm", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hours in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minutes in %q", s)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid seconds in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec >= 60 {
		return 0, fmt.Errorf("timestamp %q out of range", s)
	}
	return float64(h*3600+m*60) + sec, nil
}

// FormatTimestamp форматирует секунды как HH:MM:SS.mmm
func FormatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	h := int(sec / 3600)
	m := int(math.Mod(sec, 3600) / 60)
	s := math.Mod(sec, 60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}
