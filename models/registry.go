// Package models управляет локальными файлами моделей: распознавание речи
// и детектор лиц. Языковая модель скачивается самим сервисом инференса.
package models

// ModelType формат файлов модели
type ModelType string

const (
	ModelTypeONNX ModelType = "onnx"
)

// EngineType компонент, который использует модель
type EngineType string

const (
	EngineTypeTranscriber EngineType = "transcriber" // sherpa-onnx offline transducer
	EngineTypeFaces       EngineType = "faces"       // UltraFace через onnxruntime
)

// ModelInfo информация о модели
type ModelInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        ModelType  `json:"type"`
	Engine      EngineType `json:"engine"`
	Size        string     `json:"size"`
	SizeBytes   int64      `json:"sizeBytes"`
	Description string     `json:"description"`
	Languages   []string   `json:"languages"`
	Recommended bool       `json:"recommended,omitempty"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	IsArchive   bool       `json:"isArchive,omitempty"` // tar.bz2 или tar.gz, распаковывается в каталог модели
}

// ModelStatus статус модели на устройстве
type ModelStatus string

const (
	ModelStatusNotDownloaded ModelStatus = "not_downloaded"
	ModelStatusDownloading   ModelStatus = "downloading"
	ModelStatusDownloaded    ModelStatus = "downloaded"
	ModelStatusError         ModelStatus = "error"
)

// ModelState состояние модели с информацией
type ModelState struct {
	ModelInfo
	Status   ModelStatus `json:"status"`
	Progress float64     `json:"progress,omitempty"` // 0-100
	Error    string      `json:"error,omitempty"`
	Path     string      `json:"path,omitempty"`
}

// Registry реестр доступных моделей
var Registry = []ModelInfo{
	{
		ID:          "zipformer-en",
		Name:        "Zipformer English",
		Type:        ModelTypeONNX,
		Engine:      EngineTypeTranscriber,
		Size:        "313 MB",
		SizeBytes:   328_000_000,
		Description: "Offline transducer с таймкодами токенов",
		Languages:   []string{"en"},
		Recommended: true,
		IsArchive:   true,
		DownloadURL: "https://github.com/k2-fsa/sherpa-onnx/releases/download/asr-models/sherpa-onnx-zipformer-en-2023-06-26.tar.bz2",
	},
	{
		ID:          "ultraface-rfb-320",
		Name:        "UltraFace RFB-320",
		Type:        ModelTypeONNX,
		Engine:      EngineTypeFaces,
		Size:        "1.2 MB",
		SizeBytes:   1_270_000,
		Description: "Лёгкий детектор лиц 320x240",
		Languages:   []string{"any"},
		Recommended: true,
		DownloadURL: "https://github.com/onnx/models/raw/main/validated/vision/body_analysis/ultraface/models/version-RFB-320.onnx",
	},
}

// GetModelByID возвращает модель по ID из реестра
func GetModelByID(id string) *ModelInfo {
	return findModel(Registry, id)
}

func findModel(registry []ModelInfo, id string) *ModelInfo {
	for _, m := range registry {
		if m.ID == id {
			return &m
		}
	}
	return nil
}

// GetModelsByEngine возвращает модели для определённого компонента
func GetModelsByEngine(engine EngineType) []ModelInfo {
	var result []ModelInfo
	for _, m := range Registry {
		if m.Engine == engine {
			result = append(result, m)
		}
	}
	return result
}
