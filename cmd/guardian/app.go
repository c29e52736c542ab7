package main

import (
	"context"
	"path/filepath"
	"time"

	"guardian/ai"
	"guardian/audio"
	"guardian/document"
	"guardian/internal/config"
	"guardian/internal/logger"
	"guardian/internal/metrics"
	"guardian/internal/service"
	"guardian/models"

	"github.com/prometheus/client_golang/prometheus"
)

// app собранные зависимости одной команды
type app struct {
	cfg        *config.Config
	client     *ai.OllamaClient
	supervisor *service.Supervisor
	models     *models.Manager
	pipeline   *service.Pipeline
	registry   *prometheus.Registry
}

// newApp связывает компоненты. Метрики собираются только если withMetrics:
// одноразовым командам реестр не нужен.
func newApp(cfg *config.Config, withMetrics bool) (*app, error) {
	a := &app{cfg: cfg}

	var m *metrics.Metrics
	if withMetrics {
		a.registry = prometheus.NewRegistry()
		m = metrics.New(a.registry)
	}

	a.client = ai.NewOllamaClient(cfg.Ollama.BaseURL, cfg.Ollama.ProbeTimeout, cfg.Ollama.ChatTimeout)
	a.supervisor = service.NewSupervisor(service.SupervisorConfig{
		Binary:         cfg.Ollama.Binary,
		Model:          cfg.Ollama.Model,
		StartupTimeout: cfg.Ollama.StartupTimeout,
		PollInterval:   cfg.Ollama.PollInterval,
		ShutdownGrace:  cfg.Ollama.ShutdownGrace,
	}, a.client, nil, m)

	manager, err := models.NewManager(cfg.Models.Dir)
	if err != nil {
		return nil, err
	}
	a.models = manager

	a.pipeline = service.NewPipeline(service.PipelineConfig{
		Model:       cfg.Ollama.Model,
		Temperature: cfg.Ollama.Temperature,
		PDF: document.OpenOptions{
			Helper:     cfg.PDF.Helper,
			HelperArgs: cfg.PDF.HelperArgs,
			Timeout:    cfg.PDF.Timeout,
		},
		Audio: audio.Config{
			BeepHz:         cfg.Audio.BeepHz,
			BeepGainDB:     cfg.Audio.BeepGainDB,
			FallbackHz:     cfg.Audio.FallbackHz,
			FallbackGainDB: cfg.Audio.FallbackGainDB,
		},
		PitchRatio:         cfg.Audio.PitchRatio,
		Tempo:              cfg.Audio.Tempo,
		FaceModelID:        cfg.Faces.ModelID,
		FaceThreshold:      cfg.Faces.Threshold,
		ONNXRuntimeLib:     cfg.Faces.ONNXRuntimeLib,
		TranscriberModelID: cfg.Transcriber.ModelID,
		NumThreads:         cfg.Transcriber.NumThreads,
		Provider:           cfg.Transcriber.Provider,
	}, a.supervisor, a.client, manager, service.WithMetrics(m))

	return a, nil
}

// close освобождает модели и останавливает процесс сервиса, если он наш
func (a *app) close() {
	a.pipeline.Close()
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Ollama.ShutdownGrace+10*time.Second)
	defer cancel()
	if err := a.supervisor.Shutdown(ctx); err != nil {
		logger.Named("cli").Warn().Err(err).Msg("inference service shutdown incomplete")
	}
}

func (a *app) uploadDir() string {
	return filepath.Join(a.cfg.DataDir, "uploads")
}
