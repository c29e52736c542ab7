package ai

import (
	"encoding/json"
	"regexp"
	"strings"

	"guardian/internal/logger"
	"guardian/redact"
)

// Стратегии восстановления JSON из ответа модели
const (
	StrategyDirect    = "direct"    // весь ответ (без fence) является массивом
	StrategyBracketed = "bracketed" // подстрока от первого [ до последнего ]
)

// Причины неудачи восстановления
const (
	FailureEmpty    = "empty_reply"
	FailureNoArray  = "no_array"
	FailureNotArray = "not_array"
	FailureSyntax   = "syntax"
)

// Recovery результат разбора ответа модели. Failure пуст при успехе.
type Recovery struct {
	Candidates []redact.Candidate
	Objects    []map[string]any
	Strategy   string
	Failure    string
	Detail     string
}

var (
	reTrailingComma = regexp.MustCompile(`,\s*([\]}])`)
	reMissingComma  = regexp.MustCompile(`}\s*{`)
	reFence         = regexp.MustCompile("^```[A-Za-z0-9_-]*[ \t]*\r?\n?")
)

// SanitizeResponse никогда не возвращает ошибку: при невосстановимом ответе
// Candidates пуст, а причина записана в Failure и в лог.
func SanitizeResponse(raw string) Recovery {
	rec := RecoverArray(raw)
	if rec.Failure != "" {
		logger.Named("sanitizer").Warn().
			Str("reason", rec.Failure).
			Str("detail", rec.Detail).
			Str("reply", truncate(raw, 500)).
			Msg("model reply could not be recovered")
		return rec
	}

	rec.Candidates = make([]redact.Candidate, 0, len(rec.Objects))
	for _, obj := range rec.Objects {
		rec.Candidates = append(rec.Candidates, redact.Normalize(obj))
	}
	return rec
}

// RecoverArray извлекает JSON-массив объектов без нормализации полей
func RecoverArray(raw string) Recovery {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Recovery{Failure: FailureEmpty}
	}

	text = repairJSON(stripFence(text))

	var firstErr error
	items, err := parseArray(text)
	if err == nil {
		return Recovery{Objects: items, Strategy: StrategyDirect}
	}
	firstErr = err
	if notArray, ok := err.(notArrayError); ok && !strings.Contains(text, "[") {
		return Recovery{Failure: FailureNotArray, Detail: notArray.Error()}
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return Recovery{Failure: FailureNoArray, Detail: firstErr.Error()}
	}

	items, err = parseArray(repairJSON(text[start : end+1]))
	if err != nil {
		if _, ok := err.(notArrayError); ok {
			return Recovery{Failure: FailureNotArray, Detail: err.Error()}
		}
		return Recovery{Failure: FailureSyntax, Detail: err.Error()}
	}
	return Recovery{Objects: items, Strategy: StrategyBracketed}
}

// stripFence снимает одну пару ```json / ``` в начале и конце
func stripFence(s string) string {
	if strings.HasPrefix(s, "```") {
		s = reFence.ReplaceAllString(s, "")
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// repairJSON: лишняя запятая перед ] или }, пропущенная запятая между объектами.
// Строковые литералы не трогаются.
func repairJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	from, inStr := 0, false
	for i := 0; i < len(s); i++ {
		switch {
		case inStr && s[i] == '\\':
			i++
		case inStr && s[i] == '"':
			b.WriteString(s[from : i+1])
			from, inStr = i+1, false
		case !inStr && s[i] == '"':
			b.WriteString(repairSpan(s[from:i]))
			from, inStr = i, true
		}
	}
	if inStr {
		b.WriteString(s[from:])
	} else {
		b.WriteString(repairSpan(s[from:]))
	}
	return b.String()
}

func repairSpan(s string) string {
	s = reTrailingComma.ReplaceAllString(s, "$1")
	return reMissingComma.ReplaceAllString(s, "},{")
}

type notArrayError struct{ kind string }

func (e notArrayError) Error() string { return "parsed value is " + e.kind + ", not an array" }

func parseArray(s string) ([]map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		kind := "scalar"
		if _, isObj := v.(map[string]any); isObj {
			kind = "object"
		}
		return nil, notArrayError{kind: kind}
	}
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		// не-объекты внутри массива отбрасываются
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
