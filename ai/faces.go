package ai

import (
	"fmt"
	"image"
	"os"
	"sort"
	"sync"

	"guardian/internal/logger"

	ort "github.com/yalue/onnxruntime_go"
)

// FaceDetection найденное лицо в нормализованных координатах изображения [0,1]
type FaceDetection struct {
	X0, Y0, X1, Y1 float64
	Score          float64
}

// FaceDetector внешняя возможность детекции лиц
type FaceDetector interface {
	DetectFaces(img image.Image) ([]FaceDetection, error)
}

// UltraFaceConfig конфигурация детектора UltraFace (RFB-320 / slim-320)
type UltraFaceConfig struct {
	ModelPath      string
	ONNXRuntimeLib string
	Threshold      float64 // минимальная уверенность
	IoUThreshold   float64 // порог подавления пересекающихся рамок
	Width, Height  int     // вход модели
}

// DefaultUltraFaceConfig значения для моделей *-320
func DefaultUltraFaceConfig() UltraFaceConfig {
	return UltraFaceConfig{
		Threshold:    0.7,
		IoUThreshold: 0.3,
		Width:        320,
		Height:       240,
	}
}

// UltraFaceDetector детектор лиц на ONNX Runtime
type UltraFaceDetector struct {
	session *ort.DynamicAdvancedSession
	config  UltraFaceConfig

	mu          sync.Mutex
	initialized bool
}

// NewUltraFaceDetector загружает модель и создаёт сессию
func NewUltraFaceDetector(config UltraFaceConfig) (*UltraFaceDetector, error) {
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", config.ModelPath)
	}
	if config.Width <= 0 || config.Height <= 0 {
		def := DefaultUltraFaceConfig()
		config.Width, config.Height = def.Width, def.Height
	}

	if err := InitONNXRuntime(config.ONNXRuntimeLib); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	// UltraFace: вход "input" [1,3,H,W], выходы "scores" [1,N,2] и "boxes" [1,N,4]
	session, err := ort.NewDynamicAdvancedSession(
		config.ModelPath,
		[]string{"input"},
		[]string{"scores", "boxes"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	logger.Named("faces").Info().Str("model", config.ModelPath).Float64("threshold", config.Threshold).Msg("face detector initialized")

	return &UltraFaceDetector{session: session, config: config, initialized: true}, nil
}

// DetectFaces возвращает лица с уверенностью не ниже порога
func (d *UltraFaceDetector) DetectFaces(img image.Image) ([]FaceDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, fmt.Errorf("face detector not initialized")
	}

	w, h := d.config.Width, d.config.Height
	input := imageToCHW(img, w, h)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(h), int64(w)), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := d.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run face model: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	scores, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected scores output type %T", outputs[0])
	}
	boxes, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected boxes output type %T", outputs[1])
	}

	return decodeUltraFace(scores.GetData(), boxes.GetData(), d.config.Threshold, d.config.IoUThreshold), nil
}

// Close освобождает сессию
func (d *UltraFaceDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	d.initialized = false
}

// imageToCHW масштабирует изображение (ближайший сосед) и нормализует (p-127)/128
func imageToCHW(img image.Image, w, h int) []float32 {
	b := img.Bounds()
	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		sy := b.Min.Y + y*b.Dy()/h
		for x := 0; x < w; x++ {
			sx := b.Min.X + x*b.Dx()/w
			r, g, bl, _ := img.At(sx, sy).RGBA()
			i := y*w + x
			out[i] = (float32(r>>8) - 127) / 128
			out[plane+i] = (float32(g>>8) - 127) / 128
			out[2*plane+i] = (float32(bl>>8) - 127) / 128
		}
	}
	return out
}

// decodeUltraFace фильтрует по уверенности и подавляет пересекающиеся рамки
func decodeUltraFace(scores, boxes []float32, threshold, iou float64) []FaceDetection {
	n := len(scores) / 2
	if len(boxes)/4 < n {
		n = len(boxes) / 4
	}

	var cands []FaceDetection
	for i := 0; i < n; i++ {
		score := float64(scores[i*2+1])
		if score < threshold {
			continue
		}
		cands = append(cands, FaceDetection{
			X0:    clamp01(float64(boxes[i*4])),
			Y0:    clamp01(float64(boxes[i*4+1])),
			X1:    clamp01(float64(boxes[i*4+2])),
			Y1:    clamp01(float64(boxes[i*4+3])),
			Score: score,
		})
	}
	return nonMaxSuppression(cands, iou)
}

func nonMaxSuppression(cands []FaceDetection, iou float64) []FaceDetection {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })

	var kept []FaceDetection
	for _, c := range cands {
		overlaps := false
		for _, k := range kept {
			if intersectionOverUnion(c, k) > iou {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	return kept
}

func intersectionOverUnion(a, b FaceDetection) float64 {
	ix := max(0, min(a.X1, b.X1)-max(a.X0, b.X0))
	iy := max(0, min(a.Y1, b.Y1)-max(a.Y0, b.Y0))
	inter := ix * iy
	union := (a.X1-a.X0)*(a.Y1-a.Y0) + (b.X1-b.X0)*(b.Y1-b.Y0) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
