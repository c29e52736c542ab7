// Package redact описывает общую модель данных пайплайна редактирования:
// кандидаты, координаты, категории, действия над аудио и слова транскрипции.
package redact

import "strings"

// Category категория чувствительных данных
type Category string

const (
	CategoryPII       Category = "PII"
	CategoryFinancial Category = "FINANCIAL"
	CategoryMedical   Category = "MEDICAL"
	CategoryLegal     Category = "LEGAL"
	CategoryContact   Category = "CONTACT"
	CategoryFaces     Category = "FACES"
	CategoryName      Category = "Name"
	CategoryAge       Category = "Age"
	CategoryLocation  Category = "Location"
	CategoryAddress   Category = "Address"
	CategoryPhone     Category = "Phone"
	CategoryEmail     Category = "Email"
	CategoryDate      Category = "Date"
	CategoryID        Category = "ID"
	CategoryOther     Category = "Other"
)

// Categories полный список в каноническом написании
var Categories = []Category{
	CategoryPII, CategoryFinancial, CategoryMedical, CategoryLegal, CategoryContact, CategoryFaces,
	CategoryName, CategoryAge, CategoryLocation, CategoryAddress, CategoryPhone, CategoryEmail,
	CategoryDate, CategoryID, CategoryOther,
}

// ParseCategory сопоставляет строку модели с каноническим значением без учёта регистра.
// ok=false означает, что значение неизвестно и заменено на Other.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return CategoryOther, false
}

// Action действие над аудио-интервалом
type Action string

const (
	ActionSilence   Action = "silence"
	ActionBeep      Action = "beep"
	ActionAnonymize Action = "anonymize"
)

// Valid сообщает, поддерживается ли действие
func (a Action) Valid() bool {
	switch a {
	case ActionSilence, ActionBeep, ActionAnonymize:
		return true
	}
	return false
}

// Strength порядок "силы" действия при слиянии пересекающихся интервалов
func (a Action) Strength() int {
	switch a {
	case ActionSilence:
		return 3
	case ActionBeep:
		return 2
	case ActionAnonymize:
		return 1
	}
	return 0
}

// Coordinates прямоугольник на странице, начало координат в левом верхнем углу
type Coordinates struct {
	Page      int     `json:"page" validate:"gte=1"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width" validate:"gt=0"`
	Height    float64 `json:"height" validate:"gt=0"`
	Estimated bool    `json:"estimated,omitempty"` // позиция не найдена на странице, взята оценка
}

// Candidate предложенный чувствительный фрагмент, ожидающий решения ревьюера.
// Accepted меняет только ревьюер, ядро пайплайна его не трогает.
type Candidate struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Category    Category     `json:"category"`
	Confidence  float64      `json:"confidence"`
	Explanation string       `json:"explanation,omitempty"`
	StartTime   *float64     `json:"start_time,omitempty"`
	EndTime     *float64     `json:"end_time,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Action      Action       `json:"action,omitempty"`
	Accepted    bool         `json:"accepted"`
}

// HasInterval сообщает, заданы ли обе временные границы
func (c Candidate) HasInterval() bool {
	return c.StartTime != nil && c.EndTime != nil
}

// Seconds удобный конструктор для указателей на время
func Seconds(v float64) *float64 { return &v }

// TimedWord слово транскрипции с границами в секундах
type TimedWord struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}
