package models

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	perr "guardian/internal/errors"
	"guardian/internal/logger"
)

// ProgressCallback функция обратного вызова для прогресса
type ProgressCallback func(modelID string, progress float64, status ModelStatus, err error)

// TranscriberFiles файлы offline transducer модели
type TranscriberFiles struct {
	Encoder string
	Decoder string
	Joiner  string
	Tokens  string
}

// Manager менеджер моделей
type Manager struct {
	modelsDir  string
	registry   []ModelInfo
	downloads  map[string]context.CancelFunc // активные загрузки
	mu         sync.RWMutex
	onProgress ProgressCallback
}

// NewManager создаёт менеджер поверх общего реестра
func NewManager(modelsDir string) (*Manager, error) {
	return NewManagerWithRegistry(modelsDir, Registry)
}

// NewManagerWithRegistry создаёт менеджер с собственным реестром
func NewManagerWithRegistry(modelsDir string, registry []ModelInfo) (*Manager, error) {
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return nil, perr.IOf(err, "create models directory")
	}
	return &Manager{
		modelsDir: modelsDir,
		registry:  registry,
		downloads: make(map[string]context.CancelFunc),
	}, nil
}

// SetProgressCallback устанавливает callback для прогресса
func (m *Manager) SetProgressCallback(cb ProgressCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onProgress = cb
}

// ModelsDir путь к директории моделей
func (m *Manager) ModelsDir() string {
	return m.modelsDir
}

// Info описание модели из реестра менеджера
func (m *Manager) Info(modelID string) *ModelInfo {
	return findModel(m.registry, modelID)
}

// ModelPath файл модели или каталог для архивных моделей
func (m *Manager) ModelPath(modelID string) string {
	info := m.Info(modelID)
	if info == nil {
		return ""
	}
	if info.IsArchive {
		return filepath.Join(m.modelsDir, modelID)
	}
	return filepath.Join(m.modelsDir, modelID+"."+string(info.Type))
}

// IsModelDownloaded проверяет, что файлы модели на месте
func (m *Manager) IsModelDownloaded(modelID string) bool {
	info := m.Info(modelID)
	if info == nil {
		return false
	}
	path := m.ModelPath(modelID)
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsArchive {
		if !stat.IsDir() {
			return false
		}
		if info.Engine == EngineTypeTranscriber {
			_, err := m.TranscriberFiles(modelID)
			return err == nil
		}
		return true
	}
	return !stat.IsDir() && stat.Size() > 0
}

// TranscriberFiles находит encoder/decoder/joiner/tokens в каталоге модели
func (m *Manager) TranscriberFiles(modelID string) (TranscriberFiles, error) {
	dir := m.ModelPath(modelID)
	if dir == "" {
		return TranscriberFiles{}, perr.NotFoundf("unknown model: %s", modelID)
	}
	var files TranscriberFiles
	for _, f := range []struct {
		dst     *string
		pattern string
	}{
		{&files.Encoder, "encoder*.onnx"},
		{&files.Decoder, "decoder*.onnx"},
		{&files.Joiner, "joiner*.onnx"},
		{&files.Tokens, "tokens.txt"},
	} {
		p, err := FindFile(dir, f.pattern)
		if err != nil {
			return TranscriberFiles{}, err
		}
		*f.dst = p
	}
	return files, nil
}

// States состояние всех моделей реестра
func (m *Manager) States() []ModelState {
	m.mu.RLock()
	downloading := make(map[string]bool, len(m.downloads))
	for id := range m.downloads {
		downloading[id] = true
	}
	m.mu.RUnlock()

	states := make([]ModelState, len(m.registry))
	for i, info := range m.registry {
		state := ModelState{ModelInfo: info, Path: m.ModelPath(info.ID)}
		switch {
		case downloading[info.ID]:
			state.Status = ModelStatusDownloading
		case m.IsModelDownloaded(info.ID):
			state.Status = ModelStatusDownloaded
		default:
			state.Status = ModelStatusNotDownloaded
		}
		states[i] = state
	}
	return states
}

// Ensure синхронно скачивает модель, если её нет. Возвращает путь к модели.
func (m *Manager) Ensure(ctx context.Context, modelID string) (string, error) {
	info := m.Info(modelID)
	if info == nil {
		return "", perr.NotFoundf("unknown model: %s", modelID)
	}
	if m.IsModelDownloaded(modelID) {
		return m.ModelPath(modelID), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := m.begin(modelID, cancel); err != nil {
		return "", err
	}
	defer m.finish(modelID)

	if err := m.fetch(ctx, info); err != nil {
		return "", err
	}
	return m.ModelPath(modelID), nil
}

// DownloadModel скачивает модель в фоне, прогресс уходит в callback
func (m *Manager) DownloadModel(modelID string) error {
	info := m.Info(modelID)
	if info == nil {
		return perr.NotFoundf("unknown model: %s", modelID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.begin(modelID, cancel); err != nil {
		cancel()
		return err
	}

	go func() {
		defer m.finish(modelID)
		defer cancel()
		_ = m.fetch(ctx, info)
	}()
	return nil
}

func (m *Manager) begin(modelID string, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.downloads[modelID]; exists {
		return perr.Newf(perr.ErrorCodeUnavailable, "model %s is already downloading", modelID)
	}
	m.downloads[modelID] = cancel
	return nil
}

func (m *Manager) finish(modelID string) {
	m.mu.Lock()
	delete(m.downloads, modelID)
	m.mu.Unlock()
}

func (m *Manager) fetch(ctx context.Context, info *ModelInfo) error {
	log := logger.Named("models")
	progress := func(p float64) {
		m.notifyProgress(info.ID, p, ModelStatusDownloading, nil)
	}
	m.notifyProgress(info.ID, 0, ModelStatusDownloading, nil)

	var err error
	if info.IsArchive {
		err = DownloadAndExtract(ctx, info.DownloadURL, m.ModelPath(info.ID), info.SizeBytes, progress)
	} else {
		err = DownloadFile(ctx, info.DownloadURL, m.ModelPath(info.ID), info.SizeBytes, progress)
	}

	if err != nil {
		if ctx.Err() == context.Canceled {
			log.Info().Str("model", info.ID).Msg("download cancelled")
			m.notifyProgress(info.ID, 0, ModelStatusNotDownloaded, nil)
			m.cleanupPartialDownload(info.ID)
			return perr.Wrap(ctx.Err(), perr.ErrorCodeUnavailable, "download cancelled")
		}
		log.Error().Err(err).Str("model", info.ID).Msg("download failed")
		m.notifyProgress(info.ID, 0, ModelStatusError, err)
		return err
	}

	log.Info().Str("model", info.ID).Msg("download completed")
	m.notifyProgress(info.ID, 100, ModelStatusDownloaded, nil)
	return nil
}

// CancelDownload отменяет скачивание модели
func (m *Manager) CancelDownload(modelID string) error {
	m.mu.RLock()
	cancel, exists := m.downloads[modelID]
	m.mu.RUnlock()
	if !exists {
		return perr.NotFoundf("model %s is not downloading", modelID)
	}
	cancel()
	return nil
}

// DeleteModel удаляет скачанную модель
func (m *Manager) DeleteModel(modelID string) error {
	if !m.IsModelDownloaded(modelID) {
		return perr.NotFoundf("model %s is not downloaded", modelID)
	}
	if err := os.RemoveAll(m.ModelPath(modelID)); err != nil {
		return perr.IOf(err, "delete model %s", modelID)
	}
	logger.Named("models").Info().Str("model", modelID).Msg("model deleted")
	return nil
}

func (m *Manager) notifyProgress(modelID string, progress float64, status ModelStatus, err error) {
	m.mu.RLock()
	cb := m.onProgress
	m.mu.RUnlock()
	if cb != nil {
		cb(modelID, progress, status, err)
	}
}

func (m *Manager) cleanupPartialDownload(modelID string) {
	path := m.ModelPath(modelID)
	if path == "" {
		return
	}
	os.RemoveAll(path)
	os.RemoveAll(path + ".tmp")
}
