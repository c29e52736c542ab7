package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"guardian/ai"
	"guardian/audio"
	"guardian/document"
	perr "guardian/internal/errors"
	"guardian/models"
	"guardian/redact"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInference struct {
	reply    string
	err      error
	models   []ai.OllamaModel
	modelErr error
	calls    [][]ai.ChatMessage
}

func (f *fakeInference) Chat(_ context.Context, _ string, msgs []ai.ChatMessage, _ *ai.ChatOptions) (string, error) {
	f.calls = append(f.calls, msgs)
	return f.reply, f.err
}

func (f *fakeInference) Models(context.Context) ([]ai.OllamaModel, error) {
	return f.models, f.modelErr
}

type fakeReadiness struct {
	lines []string
	err   error
}

func (r fakeReadiness) EnsureReady(_ context.Context, onProgress func(string)) error {
	for _, l := range r.lines {
		onProgress(l)
	}
	return r.err
}

// orderedReadiness запоминает, сколько запросов к модели было до подготовки сервиса
type orderedReadiness struct {
	client      *fakeInference
	err         error
	calls       int
	chatsBefore []int
}

func (r *orderedReadiness) EnsureReady(context.Context, func(string)) error {
	r.calls++
	r.chatsBefore = append(r.chatsBefore, len(r.client.calls))
	return r.err
}

type stubPage struct {
	n        int
	text     string
	found    map[string]document.Box
	words    []document.Word
	images   []document.PageImage
	redacted []document.Box
	boxes    []document.Box
}

func (p *stubPage) Number() int                           { return p.n }
func (p *stubPage) Text() (string, error)                 { return p.text, nil }
func (p *stubPage) Images() ([]document.PageImage, error) { return p.images, nil }
func (p *stubPage) Words() ([]document.Word, error)       { return p.words, nil }
func (p *stubPage) AddRedaction(b document.Box) error     { p.redacted = append(p.redacted, b); return nil }
func (p *stubPage) DrawBox(b document.Box) error          { p.boxes = append(p.boxes, b); return nil }
func (p *stubPage) ApplyRedactions() error                { return nil }

func (p *stubPage) Search(text string) ([]document.Box, error) {
	if b, ok := p.found[text]; ok {
		return []document.Box{b}, nil
	}
	return nil, nil
}

type stubDocument struct {
	pages  []*stubPage
	marks  map[int][]string
	saved  string
	closed bool
}

func (d *stubDocument) PageCount() int { return len(d.pages) }

func (d *stubDocument) Page(n int) (document.Page, error) {
	if n < 1 || n > len(d.pages) {
		return nil, perr.NotFoundf("page %d out of range", n)
	}
	return d.pages[n-1], nil
}

func (d *stubDocument) AppliedFingerprints(page int) []string { return d.marks[page] }
func (d *stubDocument) RecordFingerprint(page int, fp string) {
	d.marks[page] = append(d.marks[page], fp)
}
func (d *stubDocument) Save(path string) error { d.saved = path; return nil }
func (d *stubDocument) Close() error           { d.closed = true; return nil }

type fakeDetector struct {
	faces []ai.FaceDetection
}

func (d fakeDetector) DetectFaces(image.Image) ([]ai.FaceDetection, error) { return d.faces, nil }

type fakeTranscriber struct {
	words []redact.TimedWord
	rate  int
}

func (t *fakeTranscriber) Transcribe(samples []float32, rate int) ([]redact.TimedWord, error) {
	t.rate = rate
	return t.words, nil
}

func newTestPipeline(client *fakeInference, doc *stubDocument, opts ...PipelineOption) *Pipeline {
	cfg := PipelineConfig{
		Model:      "gemma3n",
		Audio:      audio.DefaultConfig(),
		PitchRatio: 1.26,
		Tempo:      0.794,
	}
	p := NewPipeline(cfg, fakeReadiness{}, client, nil, opts...)
	p.openDoc = func(string) (document.Document, error) { return doc, nil }
	return p
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessPageLocatesCandidates(t *testing.T) {
	page := &stubPage{
		n:     2,
		text:  "Patient John Smith, phone 555-0100",
		found: map[string]document.Box{"John Smith": {X: 10, Y: 20, Width: 60, Height: 12}},
		words: []document.Word{{Text: "phone", Box: document.Box{X: 80, Y: 20, Width: 30, Height: 12}}},
	}
	doc := &stubDocument{pages: []*stubPage{{n: 1}, page}, marks: map[int][]string{}}
	client := &fakeInference{reply: "```json\n" + `[
		{"text": "John Smith", "category": "pii", "confidence": 0.95, "reason": "name"},
		{"text": "unknown thing", "category": "CONTACT"},
	]` + "\n```"}

	p := newTestPipeline(client, doc)
	cands, err := p.ProcessPage(context.Background(), "in.pdf", 2, ai.ProfileQuick)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.True(t, doc.closed)

	assert.Equal(t, "page_2_redaction_0", cands[0].ID)
	assert.Equal(t, redact.CategoryPII, cands[0].Category)
	assert.Equal(t, "name", cands[0].Explanation)
	assert.Equal(t, &redact.Coordinates{Page: 2, X: 10, Y: 20, Width: 60, Height: 12}, cands[0].Coordinates)

	assert.Equal(t, "page_2_redaction_1", cands[1].ID)
	assert.Equal(t, 0.8, cands[1].Confidence)
	assert.Equal(t, &redact.Coordinates{Page: 2, X: 150, Y: 130, Width: 104, Height: 20, Estimated: true}, cands[1].Coordinates)

	require.Len(t, client.calls, 1)
	assert.Contains(t, client.calls[0][0].Content, "Patient John Smith")
}

func TestModelOperationsEnsureServiceFirst(t *testing.T) {
	doc := &stubDocument{pages: []*stubPage{{n: 1, text: "Patient John Smith"}}, marks: map[int][]string{}}
	client := &fakeInference{reply: `[{"text":"John Smith","category":"name"}]`}
	ready := &orderedReadiness{client: client}
	tr := &fakeTranscriber{words: []redact.TimedWord{{Text: "Alice", Start: 0, End: 0.3}}}
	p := NewPipeline(PipelineConfig{Model: "gemma3n"}, ready, client, nil, WithTranscriber(tr))
	p.openDoc = func(string) (document.Document, error) { return doc, nil }

	_, err := p.ProcessPage(context.Background(), "in.pdf", 1, ai.ProfileQuick)
	require.NoError(t, err)
	_, err = p.ProcessAudio(context.Background(), writeWAV(t, t.TempDir(), 1))
	require.NoError(t, err)

	assert.Equal(t, 2, ready.calls)
	assert.Equal(t, []int{0, 1}, ready.chatsBefore, "service is prepared before every model request")
	assert.Len(t, client.calls, 2)
}

func TestModelOperationsStopWhenServiceUnavailable(t *testing.T) {
	doc := &stubDocument{pages: []*stubPage{{n: 1, text: "Patient John Smith"}}, marks: map[int][]string{}}
	client := &fakeInference{}
	ready := &orderedReadiness{client: client, err: perr.New(perr.ErrorCodeStartupTimeout, "not healthy")}
	p := NewPipeline(PipelineConfig{Model: "gemma3n"}, ready, client, nil)
	p.openDoc = func(string) (document.Document, error) { return doc, nil }

	_, err := p.ProcessPage(context.Background(), "in.pdf", 1, ai.ProfileQuick)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeStartupTimeout))
	assert.Empty(t, client.calls)
}

func TestProcessPageEmptyTextSkipsModel(t *testing.T) {
	doc := &stubDocument{pages: []*stubPage{{n: 1, text: "  \n "}}, marks: map[int][]string{}}
	client := &fakeInference{}
	p := newTestPipeline(client, doc)

	cands, err := p.ProcessPage(context.Background(), "in.pdf", 1, ai.ProfileDeep)
	require.NoError(t, err)
	assert.NotNil(t, cands)
	assert.Empty(t, cands)
	assert.Empty(t, client.calls)
}

func TestProcessPageUnrecoverableReply(t *testing.T) {
	doc := &stubDocument{pages: []*stubPage{{n: 1, text: "hello"}}, marks: map[int][]string{}}
	p := newTestPipeline(&fakeInference{reply: "I could not find anything."}, doc)

	cands, err := p.ProcessPage(context.Background(), "in.pdf", 1, ai.ProfileQuick)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestProcessPageErrors(t *testing.T) {
	doc := &stubDocument{pages: []*stubPage{{n: 1, text: "hello"}}, marks: map[int][]string{}}
	p := newTestPipeline(&fakeInference{err: errors.New("dial tcp: connection refused")}, doc)

	_, err := p.ProcessPage(context.Background(), "in.pdf", 1, ai.ProfileQuick)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeUnreachable))

	_, err = p.ProcessPage(context.Background(), "in.pdf", 5, ai.ProfileQuick)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestProcessPageDeepAddsFaces(t *testing.T) {
	page := &stubPage{
		n:    1,
		text: "Photo attached",
		images: []document.PageImage{
			{Index: 0, Data: pngBytes(t), Bounds: document.Box{X: 10, Y: 20, Width: 100, Height: 200}},
			{Index: 1, Data: []byte("not an image"), Bounds: document.Box{Width: 10, Height: 10}},
		},
	}
	doc := &stubDocument{pages: []*stubPage{page}, marks: map[int][]string{}}
	detector := fakeDetector{faces: []ai.FaceDetection{{X0: 0.25, Y0: 0.25, X1: 0.75, Y1: 0.75, Score: 0.91}}}
	p := newTestPipeline(&fakeInference{reply: "[]"}, doc, WithFaceDetector(detector))

	cands, err := p.ProcessPage(context.Background(), "in.pdf", 1, ai.ProfileDeep)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	face := cands[0]
	assert.Equal(t, "page_1_face_0", face.ID)
	assert.Equal(t, FaceCandidateText, face.Text)
	assert.Equal(t, redact.CategoryFaces, face.Category)
	assert.Equal(t, 0.91, face.Confidence)
	assert.Equal(t, &redact.Coordinates{Page: 1, X: 35, Y: 70, Width: 50, Height: 100}, face.Coordinates)

	// быстрый профиль лица не ищет
	cands, err = p.ProcessPage(context.Background(), "in.pdf", 1, ai.ProfileQuick)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestProcessPageDeepWithoutDetector(t *testing.T) {
	page := &stubPage{n: 1, text: "x", images: []document.PageImage{{Data: pngBytes(t), Bounds: document.Box{Width: 1, Height: 1}}}}
	doc := &stubDocument{pages: []*stubPage{page}, marks: map[int][]string{}}
	p := newTestPipeline(&fakeInference{reply: "[]"}, doc)

	cands, err := p.ProcessPage(context.Background(), "in.pdf", 1, ai.ProfileDeep)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func writeWAV(t *testing.T, dir string, seconds float64) string {
	t.Helper()
	const rate = 8000
	buf := audio.NewBuffer(rate, 1, int(seconds*rate))
	for i := range buf.Channels[0] {
		buf.Channels[0][i] = 0.3
	}
	path := filepath.Join(dir, "in.wav")
	require.NoError(t, audio.Encode(path, buf))
	return path
}

func TestProcessAudio(t *testing.T) {
	dir := t.TempDir()
	in := writeWAV(t, dir, 1)
	tr := &fakeTranscriber{words: []redact.TimedWord{
		{Text: "call", Start: 0, End: 0.3},
		{Text: "Alice", Start: 0.4, End: 0.8},
	}}
	client := &fakeInference{reply: `Sure! [{"text":"Alice","category":"name","start_time":"00:00:00.400","end_time":"00:00:01.800","confidence":0.9}]`}
	p := newTestPipeline(client, nil, WithTranscriber(tr))

	res, err := p.ProcessAudio(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 16000, tr.rate)
	assert.Equal(t, "[ 00:00:00.000 ] call\n[ 00:00:00.400 ] Alice", res.Formatted)
	require.Len(t, res.Suggestions, 1)
	s := res.Suggestions[0]
	assert.Len(t, s.ID, 36)
	assert.Equal(t, redact.CategoryName, s.Category)
	require.True(t, s.HasInterval())
	assert.InDelta(t, 0.4, *s.StartTime, 1e-9)
	assert.InDelta(t, 1.8, *s.EndTime, 1e-9)

	require.Len(t, client.calls, 1)
	assert.Equal(t, "system", client.calls[0][0].Role)
	assert.Contains(t, client.calls[0][1].Content, "[ 00:00:00.400 ] Alice")
}

func TestProcessAudioEmptyTranscription(t *testing.T) {
	in := writeWAV(t, t.TempDir(), 0.5)
	client := &fakeInference{}
	p := newTestPipeline(client, nil, WithTranscriber(&fakeTranscriber{}))

	_, err := p.ProcessAudio(context.Background(), in)
	require.Error(t, err)
	assert.Empty(t, client.calls)
}

func TestProcessAudioWithoutTranscriber(t *testing.T) {
	in := writeWAV(t, t.TempDir(), 0.5)
	p := newTestPipeline(&fakeInference{}, nil)

	_, err := p.ProcessAudio(context.Background(), in)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeUnavailable))
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestExportPDF(t *testing.T) {
	dir := t.TempDir()
	directives := writeFile(t, dir, "d.json", `[
		{"id":"a","text":"John","accepted":true,"coordinates":{"page":1,"x":1,"y":2,"width":30,"height":10}},
		{"id":"b","text":"Jane","accepted":false,"coordinates":{"page":1,"x":1,"y":2,"width":30,"height":10}},
		{"id":"c","text":"DETECTED_FACE","category":"FACES","accepted":true,"coordinates":{"page":1,"x":5,"y":5,"width":20,"height":20}},
		{"id":"d","text":"lost","accepted":true}
	]`)
	page := &stubPage{n: 1}
	doc := &stubDocument{pages: []*stubPage{page}, marks: map[int][]string{}}
	p := newTestPipeline(&fakeInference{}, doc)

	out := filepath.Join(dir, "out.pdf")
	res, err := p.ExportPDF(context.Background(), "in.pdf", directives, out)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, out, res.OutputPath)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, out, doc.saved)
	assert.Len(t, page.redacted, 1)
	assert.Len(t, page.boxes, 1)

	// повторный экспорт того же набора ничего не меняет
	res, err = p.ExportPDF(context.Background(), "in.pdf", directives, out)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.Len(t, page.redacted, 1)
}

func TestExportPDFBadDirectives(t *testing.T) {
	dir := t.TempDir()
	p := newTestPipeline(&fakeInference{}, &stubDocument{marks: map[int][]string{}})

	_, err := p.ExportPDF(context.Background(), "in.pdf", writeFile(t, dir, "d.json", `{"not":"array"}`), "out.pdf")
	assert.True(t, perr.IsCode(err, perr.ErrorCodeJSON))

	_, err = p.ExportPDF(context.Background(), "in.pdf", filepath.Join(dir, "missing.json"), "out.pdf")
	assert.True(t, perr.IsCode(err, perr.ErrorCodeIOFailure))
}

func TestRedactAudio(t *testing.T) {
	dir := t.TempDir()
	in := writeWAV(t, dir, 2)
	directives := writeFile(t, dir, "d.json", `[
		{"id":"a","start_time":0.2,"end_time":0.5,"action":"silence"},
		{"id":"b","start_time":1.0,"end_time":1.2,"action":"beep"},
		{"id":"c","start_time":1.5,"end_time":1.1,"action":"beep"},
		{"id":"d","start_time":0.1,"end_time":0.2,"action":"silence","accepted":false}
	]`)
	out := filepath.Join(dir, "out.wav")

	p := newTestPipeline(&fakeInference{}, nil)
	res, err := p.RedactAudio(context.Background(), in, directives, out)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 2, res.Skipped)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	buf, err := audio.DecodeWAV(f)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, buf.Duration(), 0.01)
	assert.InDelta(t, 0, buf.Channels[0][buf.FrameAt(0.3)], 1e-4)
}

func TestInitializeEmitsStatuses(t *testing.T) {
	var events []StatusEvent
	emit := func(e StatusEvent) { events = append(events, e) }

	p := NewPipeline(PipelineConfig{Model: "gemma3n"}, fakeReadiness{lines: []string{"pulling manifest"}}, &fakeInference{}, nil)
	require.NoError(t, p.Initialize(context.Background(), true, emit))

	var statuses []string
	for _, e := range events {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []string{StatusInitializing, StatusDownloadingModel, StatusReady}, statuses)
	assert.Equal(t, "pulling manifest", events[1].Message)

	events = nil
	p = NewPipeline(PipelineConfig{}, fakeReadiness{err: perr.New(perr.ErrorCodeStartupTimeout, "not healthy")}, &fakeInference{}, nil)
	err := p.Initialize(context.Background(), false, emit)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeStartupTimeout))
	assert.Equal(t, StatusError, events[len(events)-1].Status)
}

func TestListModels(t *testing.T) {
	m, err := models.NewManagerWithRegistry(t.TempDir(), []models.ModelInfo{{ID: "face", Type: models.ModelTypeONNX, Engine: models.EngineTypeFaces}})
	require.NoError(t, err)

	client := &fakeInference{models: []ai.OllamaModel{{Name: "gemma3n:latest"}}}
	p := NewPipeline(PipelineConfig{Model: "gemma3n"}, fakeReadiness{}, client, m)
	listing := p.ListModels(context.Background())
	assert.Equal(t, "gemma3n", listing.Chat)
	require.Len(t, listing.Installed, 1)
	require.Len(t, listing.Artifacts, 1)
	assert.Equal(t, models.ModelStatusNotDownloaded, listing.Artifacts[0].Status)

	client.modelErr = perr.New(perr.ErrorCodeUnreachable, "connection refused")
	listing = p.ListModels(context.Background())
	assert.Empty(t, listing.Installed)
	assert.True(t, strings.Contains(listing.ServiceError, "connection refused"))
}
