// Package config собирает конфигурацию guardian: значения по умолчанию,
// YAML файл, .env и переменные окружения GUARDIAN_*.
package config

import (
	"os"
	"path/filepath"
	"time"

	perr "guardian/internal/errors"
	"guardian/internal/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir     string            `yaml:"data_dir"`
	Ollama      OllamaConfig      `yaml:"ollama"`
	Models      ModelsConfig      `yaml:"models"`
	PDF         PDFConfig         `yaml:"pdf"`
	Audio       AudioConfig       `yaml:"audio"`
	Faces       FacesConfig       `yaml:"faces"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Server      ServerConfig      `yaml:"server"`
	Log         logger.Options    `yaml:"log"`
}

// OllamaConfig локальный сервис инференса и его процесс
type OllamaConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Binary         string        `yaml:"binary"`
	Model          string        `yaml:"model"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	ChatTimeout    time.Duration `yaml:"chat_timeout"`
	Temperature    float64       `yaml:"temperature"`
}

type ModelsConfig struct {
	Dir string `yaml:"dir"`
}

// PDFConfig helper - внешний процесс, умеющий редактировать PDF (redact/draw/save)
type PDFConfig struct {
	Helper     string        `yaml:"helper"`
	HelperArgs []string      `yaml:"helper_args"`
	Timeout    time.Duration `yaml:"timeout"`
}

type AudioConfig struct {
	BeepHz         float64 `yaml:"beep_hz"`
	BeepGainDB     float64 `yaml:"beep_gain_db"`
	FallbackHz     float64 `yaml:"fallback_hz"`
	FallbackGainDB float64 `yaml:"fallback_gain_db"`
	PitchRatio     float64 `yaml:"pitch_ratio"`
	Tempo          float64 `yaml:"tempo"`
}

type FacesConfig struct {
	ModelID        string  `yaml:"model_id"`
	Threshold      float64 `yaml:"threshold"`
	ONNXRuntimeLib string  `yaml:"onnxruntime_lib"`
}

type TranscriberConfig struct {
	ModelID    string `yaml:"model_id"`
	NumThreads int    `yaml:"num_threads"`
	Provider   string `yaml:"provider"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	ControlAddr    string   `yaml:"control_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	dataDir := filepath.Join(home, ".guardian")

	return &Config{
		DataDir: dataDir,
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			Binary:         "ollama",
			Model:          "gemma3n",
			StartupTimeout: 30 * time.Second,
			PollInterval:   time.Second,
			ProbeTimeout:   5 * time.Second,
			ShutdownGrace:  10 * time.Second,
			ChatTimeout:    120 * time.Second,
			Temperature:    0.1,
		},
		Models: ModelsConfig{Dir: filepath.Join(dataDir, "models")},
		PDF:    PDFConfig{Helper: "guardian-pdf", Timeout: 2 * time.Minute},
		Audio: AudioConfig{
			BeepHz:         800,
			BeepGainDB:     -20,
			FallbackHz:     400,
			FallbackGainDB: -15,
			PitchRatio:     1.26,
			Tempo:          0.794,
		},
		Faces:       FacesConfig{ModelID: "ultraface-rfb-320", Threshold: 0.7},
		Transcriber: TranscriberConfig{ModelID: "zipformer-en", NumThreads: 2, Provider: "cpu"},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8765",
			AllowedOrigins: []string{"tauri://localhost", "http://localhost:1420"},
		},
		Log: logger.Options{Level: "info", Format: "console", Service: "guardian"},
	}
}

// Load собирает конфигурацию: defaults -> YAML (если path задан) -> .env -> GUARDIAN_*
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, perr.IOf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "parse config %s", path)
		}
	}

	// .env необязателен
	_ = godotenv.Load()

	applyEnv(cfg, New().Prefix("GUARDIAN_"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, env Conf) {
	cfg.DataDir = env.MayString("DATA_DIR", cfg.DataDir)

	o := env.Prefix("OLLAMA_")
	cfg.Ollama.BaseURL = o.MayString("URL", cfg.Ollama.BaseURL)
	cfg.Ollama.Binary = o.MayString("BINARY", cfg.Ollama.Binary)
	cfg.Ollama.Model = o.MayString("MODEL", cfg.Ollama.Model)
	cfg.Ollama.StartupTimeout = o.MayDuration("STARTUP_TIMEOUT", cfg.Ollama.StartupTimeout)
	cfg.Ollama.PollInterval = o.MayDuration("POLL_INTERVAL", cfg.Ollama.PollInterval)
	cfg.Ollama.ProbeTimeout = o.MayDuration("PROBE_TIMEOUT", cfg.Ollama.ProbeTimeout)
	cfg.Ollama.ShutdownGrace = o.MayDuration("SHUTDOWN_GRACE", cfg.Ollama.ShutdownGrace)
	cfg.Ollama.ChatTimeout = o.MayDuration("CHAT_TIMEOUT", cfg.Ollama.ChatTimeout)
	cfg.Ollama.Temperature = o.MayFloat64("TEMPERATURE", cfg.Ollama.Temperature)

	cfg.Models.Dir = env.MayString("MODELS_DIR", cfg.Models.Dir)

	p := env.Prefix("PDF_")
	cfg.PDF.Helper = p.MayString("HELPER", cfg.PDF.Helper)
	cfg.PDF.HelperArgs = p.MayCSV("HELPER_ARGS", cfg.PDF.HelperArgs)
	cfg.PDF.Timeout = p.MayDuration("TIMEOUT", cfg.PDF.Timeout)

	a := env.Prefix("AUDIO_")
	cfg.Audio.BeepHz = a.MayFloat64("BEEP_HZ", cfg.Audio.BeepHz)
	cfg.Audio.BeepGainDB = a.MayFloat64("BEEP_GAIN_DB", cfg.Audio.BeepGainDB)
	cfg.Audio.FallbackHz = a.MayFloat64("FALLBACK_HZ", cfg.Audio.FallbackHz)
	cfg.Audio.FallbackGainDB = a.MayFloat64("FALLBACK_GAIN_DB", cfg.Audio.FallbackGainDB)
	cfg.Audio.PitchRatio = a.MayFloat64("PITCH_RATIO", cfg.Audio.PitchRatio)
	cfg.Audio.Tempo = a.MayFloat64("TEMPO", cfg.Audio.Tempo)

	f := env.Prefix("FACES_")
	cfg.Faces.ModelID = f.MayString("MODEL_ID", cfg.Faces.ModelID)
	cfg.Faces.Threshold = f.MayFloat64("THRESHOLD", cfg.Faces.Threshold)
	cfg.Faces.ONNXRuntimeLib = env.MayString("ONNXRUNTIME_LIB", cfg.Faces.ONNXRuntimeLib)

	t := env.Prefix("TRANSCRIBER_")
	cfg.Transcriber.ModelID = t.MayString("MODEL_ID", cfg.Transcriber.ModelID)
	cfg.Transcriber.NumThreads = t.MayInt("THREADS", cfg.Transcriber.NumThreads)
	cfg.Transcriber.Provider = t.MayString("PROVIDER", cfg.Transcriber.Provider)

	s := env.Prefix("SERVER_")
	cfg.Server.Addr = s.MayString("ADDR", cfg.Server.Addr)
	cfg.Server.ControlAddr = s.MayString("CONTROL_ADDR", cfg.Server.ControlAddr)
	cfg.Server.AllowedOrigins = s.MayCSV("ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	l := env.Prefix("LOG_")
	cfg.Log.Level = l.MayString("LEVEL", cfg.Log.Level)
	cfg.Log.Format = l.MayEnum("FORMAT", cfg.Log.Format, "console", "json")
}

// Validate проверяет значения, без которых пайплайн не может работать
func (c *Config) Validate() error {
	switch {
	case c.Ollama.BaseURL == "":
		return perr.New(perr.ErrorCodeValidation, "ollama base url is empty")
	case c.Ollama.Model == "":
		return perr.New(perr.ErrorCodeValidation, "ollama model is empty")
	case c.Ollama.PollInterval <= 0 || c.Ollama.StartupTimeout <= 0:
		return perr.New(perr.ErrorCodeValidation, "ollama poll interval and startup timeout must be positive")
	case c.Audio.PitchRatio <= 0 || c.Audio.Tempo <= 0:
		return perr.New(perr.ErrorCodeValidation, "audio pitch ratio and tempo must be positive")
	}
	return nil
}
