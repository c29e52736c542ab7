package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	perr "guardian/internal/errors"
	"guardian/internal/logger"
)

// MetadataKey ключ метаданных документа с отпечатками применённых редакций
const MetadataKey = "guardian_redactions"

// HelperRunner запускает helper с аргументами и stdin, возвращает stdout
type HelperRunner func(ctx context.Context, args []string, stdin []byte) ([]byte, error)

// ExecRunner запускает бинарник helper как дочерний процесс
func ExecRunner(bin string, extra ...string) HelperRunner {
	return func(ctx context.Context, args []string, stdin []byte) ([]byte, error) {
		cmd := exec.CommandContext(ctx, bin, append(append([]string{}, extra...), args...)...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if stdin != nil {
			cmd.Stdin = bytes.NewReader(stdin)
		}
		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return stdout.Bytes(), nil
	}
}

type helperImage struct {
	Index int    `json:"index"`
	Data  []byte `json:"data"` // base64 в JSON
	BBox  Box    `json:"bbox"`
}

// helperReply общий ответ helper; поле error заполнено при ошибке
type helperReply struct {
	Error        string              `json:"error,omitempty"`
	PageCount    int                 `json:"page_count,omitempty"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
	Text         string              `json:"text,omitempty"`
	Boxes        []Box               `json:"boxes,omitempty"`
	Words        []Word              `json:"words,omitempty"`
	Images       []helperImage       `json:"images,omitempty"`
	Fingerprints map[string][]string `json:"fingerprints,omitempty"`
}

type planPage struct {
	Page   int   `json:"page"`
	Redact []Box `json:"redact,omitempty"`
	Cover  []Box `json:"cover,omitempty"`
}

// applyPlan задание на изменение документа, передаётся в stdin
type applyPlan struct {
	Pages    []planPage        `json:"pages"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Garbage  int               `json:"garbage"`
	Deflate  bool              `json:"deflate"`
}

// HelperDocument документ, все операции которого выполняет внешний helper.
// Изменения копятся в памяти и отправляются одним планом в Save.
type HelperDocument struct {
	path    string
	run     HelperRunner
	timeout time.Duration

	mu      sync.Mutex
	pages   int
	marks   map[int][]string
	pending map[int]*planPage
	applied map[int]bool
}

// OpenHelper открывает документ через helper (команда inspect)
func OpenHelper(path string, run HelperRunner, timeout time.Duration) (*HelperDocument, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	d := &HelperDocument{
		path:    path,
		run:     run,
		timeout: timeout,
		marks:   map[int][]string{},
		pending: map[int]*planPage{},
		applied: map[int]bool{},
	}

	reply, err := d.call(nil, "inspect", path)
	if err != nil {
		return nil, perr.IOf(err, "inspect %s", path)
	}
	d.pages = reply.PageCount

	if raw := reply.Metadata[MetadataKey]; raw != "" {
		var stored map[string][]string
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			logger.Named("document").Warn().Err(err).Msg("ignoring malformed redaction metadata")
		}
		for k, v := range stored {
			if n, err := strconv.Atoi(k); err == nil {
				d.marks[n] = v
			}
		}
	}
	return d, nil
}

func (d *HelperDocument) call(stdin []byte, args ...string) (*helperReply, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	out, err := d.run(ctx, args, stdin)
	if err != nil {
		return nil, err
	}
	var reply helperReply
	if err := json.Unmarshal(out, &reply); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeJSON, "decode helper reply")
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("pdf helper: %s", reply.Error)
	}
	return &reply, nil
}

func (d *HelperDocument) PageCount() int { return d.pages }

func (d *HelperDocument) Page(n int) (Page, error) {
	if n < 1 || n > d.pages {
		return nil, perr.NotFoundf("page %d out of range 1..%d", n, d.pages)
	}
	return &helperPage{doc: d, n: n}, nil
}

func (d *HelperDocument) AppliedFingerprints(page int) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.marks[page]...)
}

func (d *HelperDocument) RecordFingerprint(page int, fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.marks[page] = append(d.marks[page], fp)
}

// Save отправляет накопленный план: редакции, рамки и метаданные.
// Сохранение идёт с очисткой мусора и сжатием потоков.
func (d *HelperDocument) Save(out string) error {
	d.mu.Lock()
	plan := applyPlan{Garbage: 4, Deflate: true, Metadata: map[string]string{}}
	for n, p := range d.pending {
		if d.applied[n] {
			plan.Pages = append(plan.Pages, *p)
		}
	}
	sort.Slice(plan.Pages, func(i, j int) bool { return plan.Pages[i].Page < plan.Pages[j].Page })

	stored := map[string][]string{}
	for n, fps := range d.marks {
		stored[strconv.Itoa(n)] = fps
	}
	d.mu.Unlock()

	meta, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	plan.Metadata[MetadataKey] = string(meta)

	body, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	if _, err := d.call(body, "apply", d.path, out); err != nil {
		return perr.IOf(err, "save %s", out)
	}
	logger.Named("document").Info().Str("output", out).Int("pages", len(plan.Pages)).Msg("pdf saved")
	return nil
}

func (d *HelperDocument) Close() error { return nil }

type helperPage struct {
	doc *HelperDocument
	n   int
}

func (p *helperPage) Number() int { return p.n }

func (p *helperPage) Text() (string, error) {
	reply, err := p.doc.call(nil, "text", p.doc.path, strconv.Itoa(p.n))
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

func (p *helperPage) Search(text string) ([]Box, error) {
	reply, err := p.doc.call(nil, "search", p.doc.path, strconv.Itoa(p.n), text)
	if err != nil {
		return nil, err
	}
	return reply.Boxes, nil
}

func (p *helperPage) Words() ([]Word, error) {
	reply, err := p.doc.call(nil, "words", p.doc.path, strconv.Itoa(p.n))
	if err != nil {
		return nil, err
	}
	return reply.Words, nil
}

func (p *helperPage) Images() ([]PageImage, error) {
	reply, err := p.doc.call(nil, "images", p.doc.path, strconv.Itoa(p.n))
	if err != nil {
		return nil, err
	}
	out := make([]PageImage, 0, len(reply.Images))
	for _, img := range reply.Images {
		out = append(out, PageImage{Index: img.Index, Data: img.Data, Bounds: img.BBox})
	}
	return out, nil
}

func (p *helperPage) pending() *planPage {
	pp, ok := p.doc.pending[p.n]
	if !ok {
		pp = &planPage{Page: p.n}
		p.doc.pending[p.n] = pp
	}
	return pp
}

func (p *helperPage) AddRedaction(b Box) error {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	pp := p.pending()
	pp.Redact = append(pp.Redact, b)
	return nil
}

func (p *helperPage) DrawBox(b Box) error {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	pp := p.pending()
	pp.Cover = append(pp.Cover, b)
	return nil
}

func (p *helperPage) ApplyRedactions() error {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	p.pending()
	p.doc.applied[p.n] = true
	return nil
}
