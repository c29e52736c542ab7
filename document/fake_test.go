package document

import (
	"strings"
)

// memPage страница в памяти для тестов
type memPage struct {
	n        int
	text     string
	found    map[string][]Box
	words    []Word
	redacted []Box
	boxes    []Box
	applied  int
}

func (p *memPage) Number() int                  { return p.n }
func (p *memPage) Text() (string, error)        { return p.text, nil }
func (p *memPage) Images() ([]PageImage, error) { return nil, nil }
func (p *memPage) Words() ([]Word, error)       { return p.words, nil }

func (p *memPage) Search(text string) ([]Box, error) {
	for k, v := range p.found {
		if strings.EqualFold(k, text) {
			return v, nil
		}
	}
	return nil, nil
}

func (p *memPage) AddRedaction(b Box) error { p.redacted = append(p.redacted, b); return nil }
func (p *memPage) DrawBox(b Box) error      { p.boxes = append(p.boxes, b); return nil }
func (p *memPage) ApplyRedactions() error   { p.applied++; return nil }

// memDocument документ в памяти
type memDocument struct {
	pages []*memPage
	marks map[int][]string
}

func newMemDocument(pages int) *memDocument {
	d := &memDocument{marks: map[int][]string{}}
	for i := 1; i <= pages; i++ {
		d.pages = append(d.pages, &memPage{n: i})
	}
	return d
}

func (d *memDocument) PageCount() int { return len(d.pages) }

func (d *memDocument) Page(n int) (Page, error) { return d.pages[n-1], nil }

func (d *memDocument) AppliedFingerprints(page int) []string { return d.marks[page] }

func (d *memDocument) RecordFingerprint(page int, fp string) {
	d.marks[page] = append(d.marks[page], fp)
}

func (d *memDocument) Save(string) error { return nil }
func (d *memDocument) Close() error      { return nil }
