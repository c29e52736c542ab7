package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"
	"time"

	"guardian/ai"
	"guardian/audio"
	"guardian/document"
	perr "guardian/internal/errors"
	"guardian/internal/logger"
	"guardian/internal/metrics"
	"guardian/models"
	"guardian/redact"

	"github.com/google/uuid"
)

// Статусы инициализации
const (
	StatusInitializing     = "initializing"
	StatusDownloadingModel = "downloading_model"
	StatusReady            = "ready"
	StatusError            = "error"
)

// FaceCandidateText текст кандидата, найденного детектором лиц
const FaceCandidateText = "DETECTED_FACE"

// transcriberRate частота, которую ожидает распознаватель
const transcriberRate = 16000

// StatusEvent одна строка прогресса инициализации
type StatusEvent struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// InferenceClient то, что пайплайну нужно от сервиса инференса
type InferenceClient interface {
	Chat(ctx context.Context, model string, messages []ai.ChatMessage, opts *ai.ChatOptions) (string, error)
	Models(ctx context.Context) ([]ai.OllamaModel, error)
}

// Readiness подготовка сервиса инференса; реализуется Supervisor
type Readiness interface {
	EnsureReady(ctx context.Context, onProgress func(line string)) error
}

// PipelineConfig параметры пайплайна
type PipelineConfig struct {
	Model       string
	Temperature float64
	PDF         document.OpenOptions
	Audio       audio.Config
	PitchRatio  float64
	Tempo       float64

	FaceModelID        string
	FaceThreshold      float64
	ONNXRuntimeLib     string
	TranscriberModelID string
	NumThreads         int
	Provider           string
}

// AudioAnalysis результат анализа записи
type AudioAnalysis struct {
	Transcript  []redact.TimedWord `json:"transcript"`
	Suggestions []redact.Candidate `json:"pii_suggestions"`
	Formatted   string             `json:"formatted_transcript"`
}

// RedactionResult конверт результата применения директив
type RedactionResult struct {
	Success    bool             `json:"success"`
	OutputPath string           `json:"output_path"`
	Applied    int              `json:"applied"`
	Skipped    int              `json:"skipped"`
	Directives []redact.Skipped `json:"skipped_directives,omitempty"`
	Report     any              `json:"report,omitempty"`
}

// ModelListing установленные модели сервиса и локальные артефакты
type ModelListing struct {
	Chat         string              `json:"chat_model"`
	Installed    []ai.OllamaModel    `json:"installed"`
	ServiceError string              `json:"service_error,omitempty"`
	Artifacts    []models.ModelState `json:"artifacts"`
}

// PipelineOption настройка пайплайна
type PipelineOption func(*Pipeline)

// WithFaceDetector задаёт детектор лиц вместо модели из менеджера
func WithFaceDetector(d ai.FaceDetector) PipelineOption {
	return func(p *Pipeline) { p.faces = d }
}

// WithTranscriber задаёт распознаватель вместо модели из менеджера
func WithTranscriber(t ai.Transcriber) PipelineOption {
	return func(p *Pipeline) { p.transcriber = t }
}

// WithMetrics подключает метрики
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline операции над документами и записями поверх сервиса инференса
type Pipeline struct {
	cfg      PipelineConfig
	ready    Readiness
	client   InferenceClient
	models   *models.Manager
	metrics  *metrics.Metrics
	openDoc  func(path string) (document.Document, error)
	enginesM sync.Mutex

	faces       ai.FaceDetector
	transcriber ai.Transcriber
}

// NewPipeline создаёт пайплайн. manager может быть nil: тогда лица и
// распознавание доступны только через опции.
func NewPipeline(cfg PipelineConfig, ready Readiness, client InferenceClient, manager *models.Manager, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{cfg: cfg, ready: ready, client: client, models: manager}
	p.openDoc = func(path string) (document.Document, error) {
		return document.Open(path, p.cfg.PDF)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize поднимает сервис инференса и при withArtifacts скачивает модели
// лиц и распознавания. Каждое изменение состояния уходит в emit.
func (p *Pipeline) Initialize(ctx context.Context, withArtifacts bool, emit func(StatusEvent)) error {
	if emit == nil {
		emit = func(StatusEvent) {}
	}
	log := logger.C(ctx).With().Str("component", "pipeline").Logger()

	emit(StatusEvent{Status: StatusInitializing, Message: "Checking inference service"})
	err := p.ready.EnsureReady(ctx, func(line string) {
		emit(StatusEvent{Status: StatusDownloadingModel, Message: line})
	})
	if err != nil {
		log.Error().Err(err).Msg("inference service is not ready")
		emit(StatusEvent{Status: StatusError, Message: err.Error()})
		return err
	}

	if withArtifacts && p.models != nil {
		for _, id := range []string{p.cfg.FaceModelID, p.cfg.TranscriberModelID} {
			if id == "" || p.models.IsModelDownloaded(id) {
				continue
			}
			emit(StatusEvent{Status: StatusDownloadingModel, Message: "Downloading " + id})
			if _, err := p.models.Ensure(ctx, id); err != nil {
				log.Error().Err(err).Str("model", id).Msg("artifact download failed")
				emit(StatusEvent{Status: StatusError, Message: err.Error()})
				return err
			}
		}
	}

	emit(StatusEvent{Status: StatusReady, Message: "Model " + p.cfg.Model + " is ready"})
	return nil
}

// ProcessPage предлагает кандидатов для одной страницы
func (p *Pipeline) ProcessPage(ctx context.Context, path string, pageNum int, profile ai.Profile) ([]redact.Candidate, error) {
	log := logger.C(ctx).With().Str("component", "pipeline").Int("page", pageNum).Logger()

	doc, err := p.openDoc(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	page, err := doc.Page(pageNum)
	if err != nil {
		return nil, err
	}
	text, err := page.Text()
	if err != nil {
		return nil, perr.IOf(err, "extract text of page %d", pageNum)
	}
	if strings.TrimSpace(text) == "" {
		log.Info().Msg("page has no text")
		return []redact.Candidate{}, nil
	}

	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}
	reply, err := p.chat(ctx, []ai.ChatMessage{{Role: "user", Content: ai.BuildPagePrompt(text, profile)}})
	if err != nil {
		return nil, err
	}
	rec := p.sanitize(reply)

	texts := make([]string, len(rec.Candidates))
	for i, c := range rec.Candidates {
		texts[i] = c.Text
	}
	matches := document.Locate(page, texts)

	out := make([]redact.Candidate, 0, len(rec.Candidates))
	for i, c := range rec.Candidates {
		c.ID = fmt.Sprintf("page_%d_redaction_%d", pageNum, i)
		if m, ok := matches[c.Text]; ok {
			c.Coordinates = coordinates(pageNum, m.Box, false)
			p.metrics.ObserveLocator(string(m.Kind))
		} else {
			c.Coordinates = coordinates(pageNum, document.FallbackBox(i, c.Text), true)
			p.metrics.ObserveLocator("fallback")
			log.Warn().Str("id", c.ID).Str("text", c.Text).Msg("text not found on page, using estimated position")
		}
		p.metrics.ObserveCandidate("page", string(c.Category))
		out = append(out, c)
	}

	if profile == ai.ProfileDeep {
		out = append(out, p.detectFaces(ctx, page)...)
	}

	log.Info().Int("candidates", len(out)).Str("profile", string(profile)).Msg("page processed")
	return out, nil
}

func coordinates(page int, b document.Box, estimated bool) *redact.Coordinates {
	return &redact.Coordinates{Page: page, X: b.X, Y: b.Y, Width: b.Width, Height: b.Height, Estimated: estimated}
}

// detectFaces ищет лица на растровых изображениях страницы. Ошибки детектора
// не прерывают обработку страницы.
func (p *Pipeline) detectFaces(ctx context.Context, page document.Page) []redact.Candidate {
	log := logger.C(ctx).With().Str("component", "pipeline").Int("page", page.Number()).Logger()

	detector := p.faceDetector()
	if detector == nil {
		log.Info().Msg("no face detector configured, skipping face candidates")
		return nil
	}
	images, err := page.Images()
	if err != nil {
		log.Warn().Err(err).Msg("page images unavailable")
		return nil
	}

	var out []redact.Candidate
	for _, pi := range images {
		img, _, err := image.Decode(bytes.NewReader(pi.Data))
		if err != nil {
			log.Warn().Err(err).Int("image", pi.Index).Msg("image decode failed")
			continue
		}
		faces, err := detector.DetectFaces(img)
		if err != nil {
			log.Warn().Err(err).Int("image", pi.Index).Msg("face detection failed")
			continue
		}
		for _, f := range faces {
			b := pi.Bounds
			box := document.Box{
				X:      b.X + f.X0*b.Width,
				Y:      b.Y + f.Y0*b.Height,
				Width:  (f.X1 - f.X0) * b.Width,
				Height: (f.Y1 - f.Y0) * b.Height,
			}
			if box.Width <= 0 || box.Height <= 0 {
				continue
			}
			out = append(out, redact.Candidate{
				ID:          fmt.Sprintf("page_%d_face_%d", page.Number(), len(out)),
				Text:        FaceCandidateText,
				Category:    redact.CategoryFaces,
				Confidence:  f.Score,
				Explanation: "Face detected in page image",
				Coordinates: coordinates(page.Number(), box, false),
			})
			p.metrics.ObserveCandidate("faces", string(redact.CategoryFaces))
		}
	}
	return out
}

// ProcessAudio распознаёт запись и предлагает интервалы с персональными данными
func (p *Pipeline) ProcessAudio(ctx context.Context, path string) (*AudioAnalysis, error) {
	log := logger.C(ctx).With().Str("component", "pipeline").Str("audio", path).Logger()

	buf, err := audio.Decode(path)
	if err != nil {
		return nil, err
	}
	tr, err := p.speechRecognizer()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	words, err := tr.Transcribe(buf.Resample(transcriberRate).Mono(), transcriberRate)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "transcription failed")
	}
	if len(words) == 0 {
		return nil, perr.New(perr.ErrorCodeInvalidArgument, "transcription produced no words")
	}
	log.Info().Int("words", len(words)).Dur("elapsed", time.Since(start)).Msg("audio transcribed")

	formatted := ai.FormatTranscript(words)
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}
	reply, err := p.chat(ctx, []ai.ChatMessage{
		{Role: "system", Content: ai.TranscriptSystemPrompt},
		{Role: "user", Content: ai.BuildTranscriptPrompt(formatted)},
	})
	if err != nil {
		return nil, err
	}
	rec := p.sanitize(reply)

	suggestions := make([]redact.Candidate, 0, len(rec.Candidates))
	for _, c := range rec.Candidates {
		c.ID = uuid.NewString()
		if !c.HasInterval() {
			log.Warn().Str("text", c.Text).Msg("suggestion without a usable interval")
		}
		p.metrics.ObserveCandidate("audio", string(c.Category))
		suggestions = append(suggestions, c)
	}

	return &AudioAnalysis{Transcript: words, Suggestions: suggestions, Formatted: formatted}, nil
}

// ExportPDF применяет принятые директивы к документу и сохраняет результат
func (p *Pipeline) ExportPDF(ctx context.Context, input, directives, output string) (*RedactionResult, error) {
	log := logger.C(ctx).With().Str("component", "pipeline").Str("pdf", input).Logger()

	cands, skipped, err := redact.LoadDirectivesFile(directives, redact.ModePDF)
	if err != nil {
		return nil, err
	}
	doc, err := p.openDoc(input)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	report, err := document.ApplyPDF(doc, cands)
	if err != nil {
		return nil, err
	}
	if err := doc.Save(output); err != nil {
		return nil, err
	}

	for _, a := range report.Applied {
		p.metrics.ObserveApplied(string(redact.ModePDF), a.Kind)
	}
	skipped = append(skipped, report.Skipped...)
	for _, s := range skipped {
		p.metrics.ObserveSkipped(string(redact.ModePDF), s.Reason)
	}

	log.Info().Int("applied", len(report.Applied)).Int("skipped", len(skipped)).Str("output", output).Msg("pdf exported")
	return &RedactionResult{
		Success:    true,
		OutputPath: output,
		Applied:    len(report.Applied),
		Skipped:    len(skipped),
		Directives: skipped,
		Report:     report,
	}, nil
}

// RedactAudio применяет директивы к записи и кодирует результат
func (p *Pipeline) RedactAudio(ctx context.Context, input, directives, output string) (*RedactionResult, error) {
	log := logger.C(ctx).With().Str("component", "pipeline").Str("audio", input).Logger()

	cands, skipped, err := redact.LoadDirectivesFile(directives, redact.ModeAudio)
	if err != nil {
		return nil, err
	}

	shifter := audio.ResampleShifter{Ratio: p.cfg.PitchRatio, Tempo: p.cfg.Tempo}
	report, err := audio.NewRedactor(p.cfg.Audio, shifter).RedactFile(input, output, cands)
	if err != nil {
		return nil, err
	}

	for _, a := range report.Applied {
		p.metrics.ObserveApplied(string(redact.ModeAudio), string(a.Action))
	}
	skipped = append(skipped, report.Skipped...)
	for _, s := range skipped {
		p.metrics.ObserveSkipped(string(redact.ModeAudio), s.Reason)
	}

	log.Info().
		Int("applied", len(report.Applied)).
		Int("skipped", len(skipped)).
		Float64("input_duration", report.InputDuration).
		Float64("output_duration", report.OutputDuration).
		Msg("audio redacted")
	return &RedactionResult{
		Success:    true,
		OutputPath: output,
		Applied:    len(report.Applied),
		Skipped:    len(skipped),
		Directives: skipped,
		Report:     report,
	}, nil
}

// ListModels модели сервиса инференса и состояние локальных артефактов.
// Недоступный сервис не считается ошибкой: причина попадает в ServiceError.
func (p *Pipeline) ListModels(ctx context.Context) *ModelListing {
	listing := &ModelListing{Chat: p.cfg.Model, Installed: []ai.OllamaModel{}, Artifacts: []models.ModelState{}}
	installed, err := p.client.Models(ctx)
	if err != nil {
		logger.C(ctx).Warn().Err(err).Msg("inference service models unavailable")
		listing.ServiceError = err.Error()
	} else {
		listing.Installed = installed
	}
	if p.models != nil {
		listing.Artifacts = p.models.States()
	}
	return listing
}

// Close освобождает загруженные модели
func (p *Pipeline) Close() {
	p.enginesM.Lock()
	defer p.enginesM.Unlock()
	for _, e := range []any{p.faces, p.transcriber} {
		if c, ok := e.(interface{ Close() }); ok {
			c.Close()
		}
	}
	p.faces, p.transcriber = nil, nil
}

// ensureReady поднимает сервис инференса перед запросом к модели. Повторный
// вызов дёшев: супервизор только проверяет здоровье и наличие модели.
func (p *Pipeline) ensureReady(ctx context.Context) error {
	if p.ready == nil {
		return nil
	}
	log := logger.C(ctx)
	return p.ready.EnsureReady(ctx, func(line string) {
		log.Info().Str("progress", line).Msg("pulling model")
	})
}

func (p *Pipeline) chat(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	start := time.Now()
	reply, err := p.client.Chat(ctx, p.cfg.Model, messages, &ai.ChatOptions{Temperature: p.cfg.Temperature})
	p.metrics.ObserveLLMLatency(time.Since(start).Seconds())
	if err != nil {
		if _, ok := perr.As(err); ok {
			return "", err
		}
		return "", perr.Wrap(err, perr.ErrorCodeUnreachable, "chat request failed")
	}
	return reply, nil
}

func (p *Pipeline) sanitize(reply string) ai.Recovery {
	rec := ai.SanitizeResponse(reply)
	if rec.Failure != "" {
		p.metrics.ObserveSanitizeFailure(rec.Failure)
	}
	return rec
}

// faceDetector загружает детектор при первом обращении, если модель скачана
func (p *Pipeline) faceDetector() ai.FaceDetector {
	p.enginesM.Lock()
	defer p.enginesM.Unlock()
	if p.faces != nil || p.models == nil || p.cfg.FaceModelID == "" {
		return p.faces
	}
	if !p.models.IsModelDownloaded(p.cfg.FaceModelID) {
		return nil
	}

	cfg := ai.DefaultUltraFaceConfig()
	cfg.ModelPath = p.models.ModelPath(p.cfg.FaceModelID)
	cfg.ONNXRuntimeLib = p.cfg.ONNXRuntimeLib
	if p.cfg.FaceThreshold > 0 {
		cfg.Threshold = p.cfg.FaceThreshold
	}
	d, err := ai.NewUltraFaceDetector(cfg)
	if err != nil {
		logger.Named("pipeline").Warn().Err(err).Msg("face detector unavailable")
		return nil
	}
	p.faces = d
	return p.faces
}

// speechRecognizer загружает распознаватель при первом обращении
func (p *Pipeline) speechRecognizer() (ai.Transcriber, error) {
	p.enginesM.Lock()
	defer p.enginesM.Unlock()
	if p.transcriber != nil {
		return p.transcriber, nil
	}
	if p.models == nil || p.cfg.TranscriberModelID == "" {
		return nil, perr.New(perr.ErrorCodeUnavailable, "no transcriber configured")
	}
	if !p.models.IsModelDownloaded(p.cfg.TranscriberModelID) {
		return nil, perr.Newf(perr.ErrorCodeUnavailable, "transcriber model %s is not downloaded (run init --artifacts)", p.cfg.TranscriberModelID)
	}

	files, err := p.models.TranscriberFiles(p.cfg.TranscriberModelID)
	if err != nil {
		return nil, err
	}
	t, err := ai.NewSherpaTranscriber(ai.SherpaTranscriberConfig{
		Encoder:    files.Encoder,
		Decoder:    files.Decoder,
		Joiner:     files.Joiner,
		Tokens:     files.Tokens,
		NumThreads: p.cfg.NumThreads,
		Provider:   p.cfg.Provider,
		SampleRate: transcriberRate,
	})
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "load transcriber")
	}
	p.transcriber = t
	return p.transcriber, nil
}
