package document

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	perr "guardian/internal/errors"
	"guardian/internal/logger"

	"github.com/ledongthuc/pdf"
)

const defaultPageHeight = 792.0

// glyph один символ страницы с рамкой (начало в левом верхнем углу)
type glyph struct {
	r   rune
	box Box
}

type textLine struct {
	y      float64
	glyphs []glyph
}

// layout текстовый слой страницы, собранный из позиций символов
type layout struct {
	lines []textLine
}

// buildLayout группирует символы по базовой линии и сортирует по X.
// Координаты PDF (начало снизу) переводятся в систему с началом сверху.
func buildLayout(texts []pdf.Text, pageHeight float64) layout {
	var glyphs []struct {
		baseline float64
		g        glyph
	}
	for _, t := range texts {
		fs := t.FontSize
		if fs <= 0 {
			fs = 10
		}
		runes := []rune(t.S)
		if len(runes) == 0 {
			continue
		}
		w := t.W / float64(len(runes))
		for i, r := range runes {
			glyphs = append(glyphs, struct {
				baseline float64
				g        glyph
			}{
				baseline: t.Y,
				g: glyph{r: r, box: Box{
					X:      t.X + float64(i)*w,
					Y:      pageHeight - t.Y - 0.8*fs,
					Width:  w,
					Height: fs,
				}},
			})
		}
	}

	sort.SliceStable(glyphs, func(i, j int) bool {
		if math.Abs(glyphs[i].baseline-glyphs[j].baseline) > 1 {
			return glyphs[i].baseline > glyphs[j].baseline
		}
		return glyphs[i].g.box.X < glyphs[j].g.box.X
	})

	var l layout
	for _, item := range glyphs {
		n := len(l.lines)
		if n == 0 || math.Abs(l.lines[n-1].y-item.baseline) > 1 {
			l.lines = append(l.lines, textLine{y: item.baseline})
			n++
		}
		line := &l.lines[n-1]
		// большой разрыв между символами считаем пробелом
		if k := len(line.glyphs); k > 0 && !unicode.IsSpace(item.g.r) {
			prev := line.glyphs[k-1]
			gap := item.g.box.X - (prev.box.X + prev.box.Width)
			if !unicode.IsSpace(prev.r) && gap > 0.2*item.g.box.Height {
				line.glyphs = append(line.glyphs, glyph{r: ' ', box: Box{X: prev.box.X + prev.box.Width, Y: prev.box.Y, Width: gap, Height: prev.box.Height}})
			}
		}
		line.glyphs = append(line.glyphs, item.g)
	}
	return l
}

// Text текст страницы построчно
func (l layout) Text() string {
	var sb strings.Builder
	for i, line := range l.lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for _, g := range line.glyphs {
			sb.WriteRune(g.r)
		}
	}
	return sb.String()
}

// Search находит все вхождения текста без учёта регистра в пределах строки
func (l layout) Search(text string) ([]Box, error) {
	needle := []rune(strings.ToLower(strings.TrimSpace(text)))
	if len(needle) == 0 {
		return nil, nil
	}
	var out []Box
	for _, line := range l.lines {
		for i := 0; i+len(needle) <= len(line.glyphs); i++ {
			matched := true
			for j, r := range needle {
				if unicode.ToLower(line.glyphs[i+j].r) != r {
					matched = false
					break
				}
			}
			if !matched {
				continue
			}
			var b Box
			for _, g := range line.glyphs[i : i+len(needle)] {
				b = b.Union(g.box)
			}
			out = append(out, b)
		}
	}
	return out, nil
}

// Words слова страницы, разделённые пробельными символами
func (l layout) Words() ([]Word, error) {
	var out []Word
	for _, line := range l.lines {
		var cur []rune
		var b Box
		flush := func() {
			if len(cur) > 0 {
				out = append(out, Word{Text: string(cur), Box: b})
			}
			cur, b = nil, Box{}
		}
		for _, g := range line.glyphs {
			if unicode.IsSpace(g.r) {
				flush()
				continue
			}
			cur = append(cur, g.r)
			b = b.Union(g.box)
		}
		flush()
	}
	return out, nil
}

// TextDocument документ только для чтения на чистом Go: текст, поиск и слова.
// Изменение страниц требует внешнего helper.
type TextDocument struct {
	path   string
	file   *os.File
	reader *pdf.Reader

	mu      sync.Mutex
	layouts map[int]layout
	marks   map[int][]string
}

// OpenText открывает PDF только для чтения
func OpenText(path string) (*TextDocument, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	logger.Named("document").Debug().Str("path", path).Int("pages", r.NumPage()).Msg("pdf opened (text backend)")
	return &TextDocument{
		path:    path,
		file:    f,
		reader:  r,
		layouts: map[int]layout{},
		marks:   map[int][]string{},
	}, nil
}

func (d *TextDocument) PageCount() int { return d.reader.NumPage() }

func (d *TextDocument) Page(n int) (Page, error) {
	if n < 1 || n > d.PageCount() {
		return nil, perr.NotFoundf("page %d out of range 1..%d", n, d.PageCount())
	}
	return &textPage{doc: d, n: n}, nil
}

func (d *TextDocument) AppliedFingerprints(page int) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.marks[page]...)
}

func (d *TextDocument) RecordFingerprint(page int, fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.marks[page] = append(d.marks[page], fp)
}

func (d *TextDocument) Save(string) error { return errReadOnly }

func (d *TextDocument) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// layout разбирает страницу один раз; сбойные потоки содержимого дают пустой слой
func (d *TextDocument) layout(n int) (l layout, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cached, ok := d.layouts[n]; ok {
		return cached, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = perr.IOf(fmt.Errorf("%v", r), "parse page %d", n)
		}
	}()

	p := d.reader.Page(n)
	if p.V.IsNull() {
		return layout{}, perr.NotFoundf("page %d not found", n)
	}
	l = buildLayout(p.Content().Text, pageHeight(p))
	d.layouts[n] = l
	return l, nil
}

// pageHeight высота из MediaBox страницы или её родителя
func pageHeight(p pdf.Page) float64 {
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		mb := v.Key("MediaBox")
		if mb.Len() == 4 {
			if h := mb.Index(3).Float64() - mb.Index(1).Float64(); h > 0 {
				return h
			}
		}
	}
	return defaultPageHeight
}

var errReadOnly = perr.New(perr.ErrorCodeUnavailable, "pdf helper required to modify documents")

type textPage struct {
	doc *TextDocument
	n   int
}

func (p *textPage) Number() int { return p.n }

func (p *textPage) Text() (string, error) {
	l, err := p.doc.layout(p.n)
	if err != nil {
		return "", err
	}
	return l.Text(), nil
}

func (p *textPage) Search(text string) ([]Box, error) {
	l, err := p.doc.layout(p.n)
	if err != nil {
		return nil, err
	}
	return l.Search(text)
}

func (p *textPage) Words() ([]Word, error) {
	l, err := p.doc.layout(p.n)
	if err != nil {
		return nil, err
	}
	return l.Words()
}

// Images извлечение растров требует helper
func (p *textPage) Images() ([]PageImage, error) { return nil, nil }

func (p *textPage) AddRedaction(Box) error { return errReadOnly }
func (p *textPage) DrawBox(Box) error      { return errReadOnly }
func (p *textPage) ApplyRedactions() error { return errReadOnly }
