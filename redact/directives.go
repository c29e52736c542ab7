package redact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"

	perr "guardian/internal/errors"
	"guardian/internal/logger"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Mode режим применения директив
type Mode string

const (
	ModePDF   Mode = "pdf"
	ModeAudio Mode = "audio"
)

// Skipped директива, отброшенная при загрузке или применении
type Skipped struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// pdfDirective поля, обязательные для PDF-режима
type pdfDirective struct {
	Coordinates *Coordinates `json:"coordinates" validate:"required"`
}

// audioDirective поля, обязательные для аудио-режима
type audioDirective struct {
	StartTime *float64 `json:"start_time" validate:"required"`
	EndTime   *float64 `json:"end_time" validate:"required"`
	Action    Action   `json:"action" validate:"required"`
}

var (
	vOnce  sync.Once
	vInst  *validator.Validate
	vTrans ut.Translator
)

// Validator общий валидатор с английскими сообщениями и именами полей из json-тегов
func Validator() (*validator.Validate, ut.Translator) {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)
		vInst, vTrans = v, trans
	})
	return vInst, vTrans
}

// ValidationMessage переводит ошибку валидатора в короткое сообщение
func ValidationMessage(err error) string {
	_, trans := Validator()
	var verrs validator.ValidationErrors
	if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fe.Translate(trans))
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}

func asValidationErrors(err error, dst *validator.ValidationErrors) bool {
	if v, ok := err.(validator.ValidationErrors); ok {
		*dst = v
		return true
	}
	return false
}

// LoadDirectivesFile читает файл директив
func LoadDirectivesFile(path string, mode Mode) ([]Candidate, []Skipped, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, perr.IOf(err, "open directives %s", path)
	}
	defer f.Close()
	return LoadDirectives(f, mode)
}

// LoadDirectives разбирает JSON-массив директив. Неизвестные поля игнорируются;
// директива без обязательных для режима полей пропускается, пакет не прерывается.
func LoadDirectives(r io.Reader, mode Mode) ([]Candidate, []Skipped, error) {
	var items []json.RawMessage
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, nil, perr.Wrap(err, perr.ErrorCodeJSON, "directives must be a JSON array")
	}

	log := logger.Named("directives")
	v, _ := Validator()

	var out []Candidate
	var skipped []Skipped
	for i, raw := range items {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			skipped = append(skipped, Skipped{Index: i, Reason: perr.ErrorCodeJSON.String(), Detail: "not an object"})
			log.Warn().Int("index", i).Msg("directive is not an object, skipped")
			continue
		}
		c := Normalize(obj)

		var target any
		switch mode {
		case ModePDF:
			target = pdfDirective{Coordinates: c.Coordinates}
		case ModeAudio:
			// в аудио-режиме файл уже содержит принятые директивы; явный false отключает запись
			if acc, ok := obj["accepted"].(bool); ok && !acc {
				skipped = append(skipped, Skipped{Index: i, ID: c.ID, Reason: "not_accepted"})
				continue
			}
			c.Accepted = true
			// Normalize заменяет нечитаемое время нулём; в файле директив такая запись пропускается
			if detail := badTime(obj); detail != "" {
				skipped = append(skipped, Skipped{Index: i, ID: c.ID, Reason: perr.ErrorCodeInvalidInterval.String(), Detail: detail})
				log.Warn().Int("index", i).Str("id", c.ID).Str("detail", detail).Msg("directive with invalid timestamp skipped")
				continue
			}
			target = audioDirective{StartTime: rawTime(obj, "start_time", c.StartTime), EndTime: rawTime(obj, "end_time", c.EndTime), Action: c.Action}
		default:
			return nil, nil, perr.InvalidArgf("unknown directive mode %q", mode)
		}

		if err := v.Struct(target); err != nil {
			msg := ValidationMessage(err)
			skipped = append(skipped, Skipped{Index: i, ID: c.ID, Reason: perr.ErrorCodeValidation.String(), Detail: msg})
			log.Warn().Int("index", i).Str("id", c.ID).Str("mode", string(mode)).Str("detail", msg).Msg("directive skipped")
			continue
		}
		out = append(out, c)
	}
	return out, skipped, nil
}

// rawTime возвращает nil для null, чтобы валидатор считал поле отсутствующим
func rawTime(obj map[string]any, key string, parsed *float64) *float64 {
	if v, ok := obj[key]; !ok || v == nil {
		return nil
	}
	return parsed
}

// badTime описание первой нечитаемой метки времени или пустая строка
func badTime(obj map[string]any) string {
	for _, key := range []string{"start_time", "end_time"} {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		if _, err := ParseTimestamp(v); err != nil {
			return key + ": " + err.Error()
		}
	}
	return ""
}

// String для логов
func (s Skipped) String() string {
	if s.Detail != "" {
		return fmt.Sprintf("#%d %s: %s (%s)", s.Index, s.ID, s.Reason, s.Detail)
	}
	return fmt.Sprintf("#%d %s: %s", s.Index, s.ID, s.Reason)
}
