package ai

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"guardian/internal/logger"
	"guardian/redact"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// Transcriber внешняя возможность распознавания речи с таймкодами слов
type Transcriber interface {
	Transcribe(samples []float32, sampleRate int) ([]redact.TimedWord, error)
}

// SherpaTranscriberConfig offline transducer модель (zipformer и аналоги)
type SherpaTranscriberConfig struct {
	Encoder    string
	Decoder    string
	Joiner     string
	Tokens     string
	NumThreads int
	Provider   string
	SampleRate int
}

// SherpaTranscriber распознаёт речь через sherpa-onnx
type SherpaTranscriber struct {
	recognizer *sherpa.OfflineRecognizer
	config     SherpaTranscriberConfig
	mu         sync.Mutex
}

// NewSherpaTranscriber создаёт распознаватель; все файлы модели должны существовать
func NewSherpaTranscriber(config SherpaTranscriberConfig) (*SherpaTranscriber, error) {
	for _, p := range []string{config.Encoder, config.Decoder, config.Joiner, config.Tokens} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("transcriber model file not found: %s", p)
		}
	}
	if config.NumThreads <= 0 {
		config.NumThreads = 2
	}
	if config.Provider == "" {
		config.Provider = "cpu"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}

	c := sherpa.OfflineRecognizerConfig{}
	c.FeatConfig = sherpa.FeatureConfig{SampleRate: config.SampleRate, FeatureDim: 80}
	c.ModelConfig.Transducer = sherpa.OfflineTransducerModelConfig{
		Encoder: config.Encoder,
		Decoder: config.Decoder,
		Joiner:  config.Joiner,
	}
	c.ModelConfig.Tokens = config.Tokens
	c.ModelConfig.NumThreads = config.NumThreads
	c.ModelConfig.Provider = config.Provider
	c.DecodingMethod = "greedy_search"

	recognizer := sherpa.NewOfflineRecognizer(&c)
	if recognizer == nil {
		return nil, fmt.Errorf("failed to create sherpa offline recognizer")
	}

	logger.Named("transcriber").Info().Str("encoder", config.Encoder).Int("threads", config.NumThreads).Msg("transcriber initialized")
	return &SherpaTranscriber{recognizer: recognizer, config: config}, nil
}

// Transcribe распознаёт моно PCM float32 и группирует токены в слова
func (t *SherpaTranscriber) Transcribe(samples []float32, sampleRate int) ([]redact.TimedWord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.recognizer == nil {
		return nil, fmt.Errorf("transcriber closed")
	}

	stream := sherpa.NewOfflineStream(t.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	t.recognizer.Decode(stream)
	result := stream.GetResult()
	if result == nil {
		return nil, fmt.Errorf("empty recognition result")
	}

	duration := float64(len(samples)) / float64(sampleRate)
	return tokensToWords(result.Tokens, result.Timestamps, duration), nil
}

// Close освобождает распознаватель
func (t *SherpaTranscriber) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(t.recognizer)
		t.recognizer = nil
	}
}

// tokensToWords склеивает BPE-токены в слова. Новое слово начинается с токена,
// у которого ведущий пробел или "▁". Конец слова = начало следующего.
func tokensToWords(tokens []string, stamps []float32, duration float64) []redact.TimedWord {
	var words []redact.TimedWord
	for i, tok := range tokens {
		start := duration
		if i < len(stamps) {
			start = float64(stamps[i])
		}
		boundary := strings.HasPrefix(tok, " ") || strings.HasPrefix(tok, "▁")
		text := strings.TrimLeft(tok, " ▁")

		if boundary || len(words) == 0 {
			if text == "" {
				continue
			}
			words = append(words, redact.TimedWord{Text: text, Start: start})
			continue
		}
		words[len(words)-1].Text += text
	}

	for i := range words {
		if i+1 < len(words) {
			words[i].End = words[i+1].Start
		} else {
			words[i].End = max(duration, words[i].Start)
		}
	}
	return words
}
