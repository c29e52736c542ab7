package redact

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"guardian/internal/logger"
)

// DefaultConfidence используется, когда модель прислала нечисловую уверенность
const DefaultConfidence = 0.8

// Normalize превращает произвольный JSON-объект (ответ модели или директиву)
// в Candidate. Некорректные поля не приводят к ошибке: значение заменяется
// и аномалия логируется.
func Normalize(obj map[string]any) Candidate {
	log := logger.Named("normalize")

	c := Candidate{
		ID:          asString(obj["id"]),
		Text:        asString(obj["text"]),
		Explanation: asString(obj["explanation"]),
		Action:      Action(strings.ToLower(strings.TrimSpace(asString(obj["action"])))),
		Confidence:  normalizeConfidence(obj["confidence"]),
	}
	if c.Explanation == "" {
		c.Explanation = asString(obj["reason"])
	}

	if raw, ok := obj["category"]; ok {
		cat, known := ParseCategory(asString(raw))
		if !known {
			log.Debug().Str("category", asString(raw)).Msg("unknown category, using Other")
		}
		c.Category = cat
	} else {
		c.Category = CategoryOther
	}

	for _, f := range []struct {
		key string
		dst **float64
	}{{"start_time", &c.StartTime}, {"end_time", &c.EndTime}} {
		raw, ok := obj[f.key]
		if !ok {
			continue
		}
		v, err := ParseTimestamp(raw)
		if err != nil {
			log.Warn().Err(err).Str("field", f.key).Str("text", c.Text).Msg("invalid timestamp replaced with 0.0")
			v = 0
		}
		*f.dst = Seconds(v)
	}

	if m, ok := obj["coordinates"].(map[string]any); ok {
		c.Coordinates = &Coordinates{
			Page:      int(asFloat(m["page"])),
			X:         asFloat(m["x"]),
			Y:         asFloat(m["y"]),
			Width:     asFloat(m["width"]),
			Height:    asFloat(m["height"]),
			Estimated: m["estimated"] == true,
		}
	}

	if b, ok := obj["accepted"].(bool); ok {
		c.Accepted = b
	}
	return c
}

func normalizeConfidence(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return DefaultConfidence
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return DefaultConfidence
		}
		f = parsed
	default:
		return DefaultConfidence
	}
	if math.IsNaN(f) {
		return DefaultConfidence
	}
	return math.Max(0, math.Min(1, f))
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	}
	return 0
}
