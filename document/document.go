// Package document работает со страницами PDF: поиск текста, поиск позиций
// кандидатов на странице и применение принятых редакций.
package document

import (
	"os/exec"
	"time"

	perr "guardian/internal/errors"
	"guardian/internal/logger"
)

// Box прямоугольник в координатах страницы, начало в левом верхнем углу
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Union возвращает наименьший прямоугольник, содержащий оба
func (b Box) Union(o Box) Box {
	if b.Width == 0 && b.Height == 0 {
		return o
	}
	x0, y0 := min(b.X, o.X), min(b.Y, o.Y)
	x1, y1 := max(b.X+b.Width, o.X+o.Width), max(b.Y+b.Height, o.Y+o.Height)
	return Box{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Word слово страницы с его рамкой
type Word struct {
	Text string `json:"text"`
	Box
}

// PageImage растровое изображение страницы и его рамка на странице
type PageImage struct {
	Index  int
	Data   []byte // PNG или JPEG
	Bounds Box
}

// TextLayout то, что нужно локатору от страницы
type TextLayout interface {
	Search(text string) ([]Box, error)
	Words() ([]Word, error)
}

// Page одна страница документа (номер с 1)
type Page interface {
	TextLayout
	Number() int
	Text() (string, error)
	Images() ([]PageImage, error)
	AddRedaction(b Box) error
	DrawBox(b Box) error
	ApplyRedactions() error
}

// Document открытый PDF
type Document interface {
	PageCount() int
	Page(n int) (Page, error)
	// AppliedFingerprints отпечатки наборов редакций, уже применённых к странице
	AppliedFingerprints(page int) []string
	RecordFingerprint(page int, fp string)
	// Save сохраняет с очисткой неиспользуемых объектов и сжатием потоков
	Save(path string) error
	Close() error
}

// OpenOptions выбор реализации
type OpenOptions struct {
	Helper     string // внешний процесс редактирования PDF
	HelperArgs []string
	Timeout    time.Duration
	Runner     HelperRunner
}

// Open открывает документ через helper, если он доступен, иначе только для чтения
func Open(path string, opts OpenOptions) (Document, error) {
	log := logger.Named("document")

	run := opts.Runner
	if run == nil && opts.Helper != "" {
		if bin, err := exec.LookPath(opts.Helper); err == nil {
			run = ExecRunner(bin, opts.HelperArgs...)
		} else {
			log.Debug().Str("helper", opts.Helper).Msg("pdf helper not found, falling back to read-only text backend")
		}
	}
	if run != nil {
		doc, err := OpenHelper(path, run, opts.Timeout)
		if err != nil {
			return nil, err
		}
		return doc, nil
	}

	doc, err := OpenText(path)
	if err != nil {
		return nil, perr.IOf(err, "open pdf %s", path)
	}
	return doc, nil
}
