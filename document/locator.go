package document

import (
	"strings"
	"unicode/utf8"

	"guardian/internal/logger"

	"golang.org/x/text/cases"
)

// FuzzyThreshold слово принимается, только если его оценка строго больше
const FuzzyThreshold = 0.3

// MatchKind как найдена позиция
type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchFuzzy MatchKind = "fuzzy"
)

// Match позиция текста на странице
type Match struct {
	Box   Box
	Kind  MatchKind
	Score float64
	Word  string // слово, выбранное нечётким поиском
}

// Locate сопоставляет каждому тексту рамку на странице: сначала точный поиск,
// затем нечёткий по словам. Не найденные тексты в результат не попадают.
func Locate(page TextLayout, texts []string) map[string]Match {
	log := logger.Named("locator")
	fold := cases.Fold()

	out := make(map[string]Match, len(texts))
	var words []Word
	wordsLoaded := false

	for _, text := range texts {
		if _, done := out[text]; done || strings.TrimSpace(text) == "" {
			continue
		}

		boxes, err := page.Search(text)
		if err != nil {
			log.Warn().Err(err).Str("text", text).Msg("exact search failed, trying fuzzy")
		}
		if len(boxes) > 0 {
			out[text] = Match{Box: boxes[0], Kind: MatchExact, Score: 1}
			continue
		}

		if !wordsLoaded {
			wordsLoaded = true
			words, err = page.Words()
			if err != nil {
				log.Warn().Err(err).Msg("word extraction failed")
			}
		}

		best, score := bestWord(fold, text, words)
		if best != nil && score > FuzzyThreshold {
			out[text] = Match{Box: best.Box, Kind: MatchFuzzy, Score: score, Word: best.Text}
			log.Debug().Str("text", text).Str("word", best.Text).Float64("score", score).Msg("fuzzy match")
			continue
		}
		log.Debug().Str("text", text).Float64("best_score", score).Msg("no suitable match")
	}
	return out
}

// bestWord возвращает слово с наибольшей оценкой (при равенстве первое)
func bestWord(fold cases.Caser, text string, words []Word) (*Word, float64) {
	target := fold.String(text)
	tokens := strings.Fields(target)

	var best *Word
	bestScore := 0.0
	for i := range words {
		w := fold.String(strings.TrimSpace(words[i].Text))
		if w == "" {
			continue
		}
		if s := scoreWord(w, target, tokens); s > bestScore {
			bestScore = s
			best = &words[i]
		}
	}
	return best, bestScore
}

// scoreWord по приоритету: совпадение с токеном 1.0; вхождение в любую сторону
// min(len)/max(len); первый токен внутри слова 0.8
func scoreWord(word, target string, tokens []string) float64 {
	for _, t := range tokens {
		if word == t {
			return 1.0
		}
	}
	if strings.Contains(target, word) || strings.Contains(word, target) {
		a, b := utf8.RuneCountInString(word), utf8.RuneCountInString(target)
		return float64(min(a, b)) / float64(max(a, b))
	}
	if len(tokens) > 0 && strings.Contains(word, tokens[0]) {
		return 0.8
	}
	return 0
}

// FallbackBox оценочная позиция для кандидата, которого нет на странице
func FallbackBox(index int, text string) Box {
	return Box{
		X:      100 + float64(index)*50,
		Y:      100 + float64(index)*30,
		Width:  max(100, float64(utf8.RuneCountInString(text))*8),
		Height: 20,
	}
}
